package provision

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/agentctl/internal/config"
)

func testFleet(dirs map[string]*fakeDir) *Fleet {
	newDir := func(cluster config.Cluster) Directory {
		return dirs[cluster.Endpoint]
	}
	return NewFleet(newDir, zerolog.Nop(), instantPolicies()...)
}

func TestFleet_ProvisionsEveryCluster(t *testing.T) {
	east := newFakeDir()
	east.addDatabase("prod-a")
	west := newFakeDir()
	west.addDatabase("prod-b")

	fleet := testFleet(map[string]*fakeDir{
		"https://east:9443": east,
		"https://west:9443": west,
	})

	clusters := []config.Cluster{
		{ID: "east", Endpoint: "https://east:9443"},
		{ID: "west", Endpoint: "https://west:9443"},
	}
	tally := fleet.Provision(context.Background(), clusters, "radar-agent", Options{Password: "secret"})
	assert.Equal(t, Tally{Succeeded: 2, Total: 2}, tally)

	require.Len(t, east.acls, 1)
	require.Len(t, west.acls, 1)
	assert.Len(t, east.users, 1)
}

func TestFleet_UnreachableClusterCountedAndSkipped(t *testing.T) {
	up := newFakeDir()
	up.addDatabase("prod-a")
	down := newFakeDir()
	down.pingFails = true

	fleet := testFleet(map[string]*fakeDir{
		"https://up:9443":   up,
		"https://down:9443": down,
	})

	clusters := []config.Cluster{
		{ID: "down", Endpoint: "https://down:9443"},
		{ID: "up", Endpoint: "https://up:9443"},
	}
	tally := fleet.Provision(context.Background(), clusters, "radar-agent", Options{Password: "secret"})

	assert.Equal(t, Tally{Succeeded: 1, Total: 2}, tally)
	assert.False(t, tally.AllSucceeded())
	assert.Len(t, up.acls, 1, "healthy cluster still provisioned after the failure")
	assert.Empty(t, down.ops)
}

func TestFleet_BasicAuthCredentialsSkipUserCreation(t *testing.T) {
	withCreds := newFakeDir()
	withCreds.addDatabase("prod-a")
	withoutCreds := newFakeDir()
	withoutCreds.addDatabase("prod-b")

	fleet := testFleet(map[string]*fakeDir{
		"https://a:9443": withCreds,
		"https://b:9443": withoutCreds,
	})

	clusters := []config.Cluster{
		{ID: "a", Endpoint: "https://a:9443", Username: "admin@re.demo", Password: "redis123"},
		{ID: "b", Endpoint: "https://b:9443"},
	}
	tally := fleet.Provision(context.Background(), clusters, "radar-agent", Options{Password: "secret"})
	assert.Equal(t, Tally{Succeeded: 2, Total: 2}, tally)

	assert.Empty(t, withCreds.users, "admin credentials reused, no dedicated user")
	assert.Len(t, withoutCreds.users, 1, "dedicated user created where no credentials were supplied")
}
