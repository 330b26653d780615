package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/edvin/agentctl/internal/config"
	"github.com/edvin/agentctl/internal/enterprise"
	"github.com/edvin/agentctl/internal/logging"
	"github.com/edvin/agentctl/internal/provision"
)

var (
	okMark   = color.New(color.FgGreen).Sprint("✓")
	failMark = color.New(color.FgRed).Sprint("✗")
)

// connFlags are the cluster connection options shared by the
// single-cluster subcommands.
type connFlags struct {
	endpoint  string
	username  string
	password  string
	verifySSL bool
	logLevel  string
}

// agentFlags are the provisioning knobs shared by create/repair.
type agentFlags struct {
	agent            string
	agentPassword    string
	agentEmail       string
	aclRules         string
	roleManagement   string
	databaseFilter   string
	skipExisting     bool
	skipAllDatabases bool
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "create":
		err = runCreate(os.Args[2:])
	case "update":
		err = runUpdate(os.Args[2:])
	case "repair":
		err = runRepair(os.Args[2:])
	case "fleet":
		err = runFleet(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", failMark, err)
		os.Exit(1)
	}
}

func addConnFlags(fs *flag.FlagSet, c *connFlags) {
	fs.StringVar(&c.endpoint, "endpoint", "", "Cluster admin REST API endpoint, e.g. https://localhost:9443 (required)")
	fs.StringVar(&c.username, "username", "", "Admin username (fallback: AGENT_USER env var)")
	fs.StringVar(&c.password, "password", "", "Admin password (fallback: ADMIN_PWD env var)")
	fs.BoolVar(&c.verifySSL, "verify-ssl", false, "Verify the cluster's TLS certificate (default: verification skipped)")
	fs.StringVar(&c.logLevel, "log-level", "info", "Log level (trace|debug|info|warn|error)")
}

func addAgentFlags(fs *flag.FlagSet, a *agentFlags) {
	fs.StringVar(&a.agent, "agent", "", "Agent name; resources are named <agent>-acl and <agent>-role (fallback: AGENT_NAME)")
	fs.StringVar(&a.agentPassword, "agent-password", "", "Password for the agent's user (fallback: AGENT_PASSWORD, AGENT_PWD)")
	fs.StringVar(&a.agentEmail, "agent-email", "", "Email for the agent's user (default: <agent>@example.com)")
	fs.StringVar(&a.aclRules, "acl-rules", "", "ACL rule string (default: monitoring permissions)")
	fs.StringVar(&a.roleManagement, "role-management", enterprise.ManagementClusterMember, "Role management level (admin|cluster_member|db_member|none)")
	fs.StringVar(&a.databaseFilter, "database-filter", "", "Only touch databases whose name matches this regex")
	fs.BoolVar(&a.skipExisting, "skip-existing", false, "Report databases that already hold the binding as skipped")
	fs.BoolVar(&a.skipAllDatabases, "skip-all-databases", false, "Only manage ACL, role, and user; leave database permissions alone")
}

// resolve fills flag values from their environment fallbacks and
// reports what is still missing.
func (c *connFlags) resolve() error {
	if c.username == "" {
		c.username = os.Getenv("AGENT_USER")
	}
	if c.password == "" {
		c.password = os.Getenv("ADMIN_PWD")
	}
	switch {
	case c.endpoint == "":
		return fmt.Errorf("-endpoint is required")
	case c.username == "":
		return fmt.Errorf("-username is required (or set AGENT_USER)")
	case c.password == "":
		return fmt.Errorf("-password is required (or set ADMIN_PWD)")
	}
	return nil
}

func (a *agentFlags) resolve(needPassword bool) error {
	if a.agent == "" {
		a.agent = os.Getenv("AGENT_NAME")
	}
	if a.agent == "" {
		return fmt.Errorf("-agent is required (or set AGENT_NAME)")
	}
	if err := config.ValidateAgentName(a.agent); err != nil {
		return err
	}
	if a.agentPassword == "" {
		a.agentPassword = config.GetEnv("AGENT_PASSWORD", os.Getenv("AGENT_PWD"))
	}
	if needPassword && a.agentPassword == "" {
		return fmt.Errorf("-agent-password is required (or set AGENT_PASSWORD)")
	}
	if a.agentEmail == "" {
		a.agentEmail = os.Getenv("AGENT_USER")
	}
	return nil
}

func (a *agentFlags) options() provision.Options {
	return provision.Options{
		ACLRules:         a.aclRules,
		RoleManagement:   a.roleManagement,
		Email:            a.agentEmail,
		Password:         a.agentPassword,
		DatabaseFilter:   a.databaseFilter,
		SkipExisting:     a.skipExisting,
		SkipAllDatabases: a.skipAllDatabases,
	}
}

// connect builds the API client and gates on connectivity.
func connect(c *connFlags, logger zerolog.Logger) (*enterprise.Client, error) {
	client := enterprise.NewClient(c.endpoint, c.username, c.password, c.verifySSL, logger)
	if !client.Ping(context.Background()) {
		return nil, fmt.Errorf("connectivity test against %s failed", c.endpoint)
	}
	return client, nil
}

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	var conn connFlags
	var agent agentFlags
	force := fs.Bool("force", false, "Delete and recreate existing components")
	addConnFlags(fs, &conn)
	addAgentFlags(fs, &agent)
	fs.Parse(args)

	if err := conn.resolve(); err != nil {
		return err
	}
	if err := agent.resolve(true); err != nil {
		return err
	}

	logger := logging.New(conn.logLevel)
	client, err := connect(&conn, logger)
	if err != nil {
		return err
	}

	opts := agent.options()
	opts.Force = *force

	manager := provision.NewManager(client, logger)
	res, err := manager.Create(context.Background(), agent.agent, opts)
	if err != nil {
		return err
	}

	printResult(agent.agent, res, agent.skipAllDatabases)
	return nil
}

func runUpdate(args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	var conn connFlags
	var agent agentFlags
	addConnFlags(fs, &conn)
	addAgentFlags(fs, &agent)
	fs.Parse(args)

	if err := conn.resolve(); err != nil {
		return err
	}
	if err := agent.resolve(false); err != nil {
		return err
	}

	logger := logging.New(conn.logLevel)
	client, err := connect(&conn, logger)
	if err != nil {
		return err
	}

	manager := provision.NewManager(client, logger)
	res, err := manager.Update(context.Background(), agent.agent, agent.options())
	if err != nil {
		return err
	}

	fmt.Printf("%s permissions updated for agent %q: %s databases\n", okMark, agent.agent, res.Databases)
	return nil
}

func runRepair(args []string) error {
	fs := flag.NewFlagSet("repair", flag.ExitOnError)
	var conn connFlags
	var agent agentFlags
	addConnFlags(fs, &conn)
	addAgentFlags(fs, &agent)
	fs.Parse(args)

	if err := conn.resolve(); err != nil {
		return err
	}
	if err := agent.resolve(false); err != nil {
		return err
	}

	logger := logging.New(conn.logLevel)
	client, err := connect(&conn, logger)
	if err != nil {
		return err
	}

	manager := provision.NewManager(client, logger)
	res, err := manager.Repair(context.Background(), agent.agent, agent.options())
	if err != nil {
		return err
	}

	printResult(agent.agent, res, agent.skipAllDatabases)
	return nil
}

func runFleet(args []string) error {
	fs := flag.NewFlagSet("fleet", flag.ExitOnError)
	var agent agentFlags
	configPath := fs.String("config", "", "Path to the deployment YAML config (required)")
	force := fs.Bool("force", false, "Delete and recreate existing components")
	verifySSL := fs.Bool("verify-ssl", false, "Verify cluster TLS certificates")
	logLevel := fs.String("log-level", "info", "Log level")
	addAgentFlags(fs, &agent)
	fs.Parse(args)

	if *configPath == "" {
		return fmt.Errorf("-config is required")
	}
	if err := agent.resolve(false); err != nil {
		return err
	}

	logger := logging.New(*logLevel)
	clusters, err := config.Load(*configPath, logger)
	if err != nil {
		return err
	}
	if len(clusters) == 0 {
		return fmt.Errorf("no ENTERPRISE deployments found in %s", *configPath)
	}

	opts := agent.options()
	opts.Force = *force

	fleet := provision.NewFleet(func(cluster config.Cluster) provision.Directory {
		return enterprise.NewClient(cluster.Endpoint, cluster.Username, cluster.Password, *verifySSL, logger)
	}, logger)

	tally := fleet.Provision(context.Background(), clusters, agent.agent, opts)
	if !tally.AllSucceeded() {
		return fmt.Errorf("fleet provisioning incomplete: %s clusters succeeded", tally)
	}

	fmt.Printf("%s fleet provisioning completed: %s clusters\n", okMark, tally)
	return nil
}

func printResult(agent string, res *provision.Result, skippedDatabases bool) {
	fmt.Printf("%s agent %q provisioned\n", okMark, agent)
	if res.ACL != nil {
		fmt.Printf("  ACL:  %s (uid %d)\n", res.ACL.Name, res.ACL.UID)
	}
	if res.Role != nil {
		fmt.Printf("  Role: %s (uid %d)\n", res.Role.Name, res.Role.UID)
	}
	if res.User != nil {
		fmt.Printf("  User: %s (uid %d)\n", res.User.Name, res.User.UID)
	} else {
		fmt.Println("  User: not created (basic auth credentials reused)")
	}
	if !skippedDatabases {
		fmt.Printf("  Databases: %s\n", res.Databases)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage:
  agentctl create -endpoint URL -username U -password P -agent NAME [flags]
  agentctl update -endpoint URL -username U -password P -agent NAME [flags]
  agentctl repair -endpoint URL -username U -password P -agent NAME [flags]
  agentctl fleet  -config FILE -agent NAME [flags]

Commands:
  create   Provision ACL, role, user, and database permissions for an agent
  update   Reconcile database permissions for an already-provisioned agent
  repair   Create only the missing pieces of an agent's ACL/role/user triple
  fleet    Provision every ENTERPRISE deployment in a YAML config

Run 'agentctl <command> -h' for the command's flags. Connection values
fall back to the AGENT_USER, ADMIN_PWD, AGENT_NAME, AGENT_PASSWORD and
AGENT_PWD environment variables.`)
}
