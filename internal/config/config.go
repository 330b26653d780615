package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// DefaultAdminPort is the cluster admin API port used when a deployment
// derives its endpoint from a redis connection URL.
const DefaultAdminPort = 9443

var validate = validator.New()

var agentNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,62}$`)

func init() {
	validate.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return agentNameRegex.MatchString(fl.Field().String())
	})
}

// ValidateAgentName rejects agent names that cannot form valid resource
// names on the cluster.
func ValidateAgentName(name string) error {
	if err := validate.Var(name, "required,slug"); err != nil {
		return fmt.Errorf("invalid agent name %q: must be lowercase alphanumeric with - or _, starting with a letter", name)
	}
	return nil
}

// Cluster is one resolved provisioning target.
type Cluster struct {
	ID       string
	Name     string
	Endpoint string
	Username string
	Password string
}

// Document schema of the deployment config. Only ENTERPRISE deployments
// concern this tool; other types are ignored.
type document struct {
	Deployments []deployment `yaml:"deployment"`
}

type deployment struct {
	ID          string      `yaml:"id" validate:"required"`
	Name        string      `yaml:"name"`
	Type        string      `yaml:"type"`
	RestAPI     restAPI     `yaml:"rest_api"`
	RedisURLs   stringList  `yaml:"redis_urls"`
	Credentials credentials `yaml:"credentials"`
}

type restAPI struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
}

type credentials struct {
	EnterpriseAPI enterpriseAPI `yaml:"enterprise_api"`
}

type enterpriseAPI struct {
	BasicAuth string `yaml:"basic_auth"`
}

// stringList accepts both a single scalar and a sequence.
type stringList []string

func (s *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var single string
		if err := node.Decode(&single); err != nil {
			return err
		}
		*s = []string{single}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := node.Decode(&many); err != nil {
			return err
		}
		*s = many
		return nil
	default:
		return fmt.Errorf("redis_urls must be a string or a list of strings")
	}
}

// Load reads the deployment config, expands ${VAR} references from the
// process environment, and resolves every ENTERPRISE deployment into a
// provisioning target. Descriptors that cannot be resolved are logged
// and skipped rather than failing the whole file.
func Load(path string, logger zerolog.Logger) ([]Cluster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, os.LookupEnv, logger)
}

// Parse is Load on raw bytes with an injectable environment.
func Parse(data []byte, lookup func(string) (string, bool), logger zerolog.Logger) ([]Cluster, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	interpolate(&root, lookup, logger)

	var doc document
	if err := root.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var clusters []Cluster
	for _, d := range doc.Deployments {
		if d.Type != "ENTERPRISE" {
			continue
		}
		cluster, err := resolveDeployment(d)
		if err != nil {
			logger.Warn().Str("deployment", d.ID).Err(err).Msg("skipping deployment")
			continue
		}
		clusters = append(clusters, cluster)
	}
	return clusters, nil
}

func resolveDeployment(d deployment) (Cluster, error) {
	if err := validate.Struct(d); err != nil {
		return Cluster{}, fmt.Errorf("invalid descriptor: %w", err)
	}

	endpoint, err := resolveEndpoint(d)
	if err != nil {
		return Cluster{}, err
	}

	cluster := Cluster{
		ID:       d.ID,
		Name:     d.Name,
		Endpoint: endpoint,
	}
	if cluster.Name == "" {
		cluster.Name = d.ID
	}

	if auth := d.Credentials.EnterpriseAPI.BasicAuth; auth != "" {
		username, password, ok := strings.Cut(auth, ":")
		if !ok {
			return Cluster{}, fmt.Errorf("basic_auth must be in user:password form")
		}
		cluster.Username = username
		cluster.Password = password
	}

	return cluster, nil
}

// resolveEndpoint prefers an explicit rest_api host/port pair. Without
// one it derives the endpoint from the first redis connection URL:
// databases are addressed through a redis-<port>. subdomain of the
// cluster FQDN, so stripping that label yields the admin host.
func resolveEndpoint(d deployment) (string, error) {
	if d.RestAPI.Host != "" && d.RestAPI.Port != 0 {
		if strings.Contains(d.RestAPI.Host, "://") || strings.Contains(d.RestAPI.Host, ":") {
			return "", fmt.Errorf("rest_api.host %q must be a bare hostname", d.RestAPI.Host)
		}
		return fmt.Sprintf("https://%s:%d", d.RestAPI.Host, d.RestAPI.Port), nil
	}

	if len(d.RedisURLs) == 0 {
		return "", fmt.Errorf("no rest_api host/port and no redis_urls to derive an endpoint from")
	}

	parsed, err := url.Parse(d.RedisURLs[0])
	if err != nil {
		return "", fmt.Errorf("parse redis url %q: %w", d.RedisURLs[0], err)
	}
	hostname := parsed.Hostname()
	if hostname == "" {
		return "", fmt.Errorf("redis url %q has no hostname", d.RedisURLs[0])
	}

	if label, rest, ok := strings.Cut(hostname, "."); ok && strings.HasPrefix(label, "redis-") {
		hostname = rest
	}

	port := d.RestAPI.Port
	if port == 0 {
		port = DefaultAdminPort
	}
	return fmt.Sprintf("https://%s:%d", hostname, port), nil
}
