// Package config reads the pipeline configuration from the environment and
// validates it before any cloud call is made.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
)

const (
	DefaultSourceBaseURL = "https://s3.amazonaws.com/nyc-tlc/trip+data/"
	DefaultReadyTimeout  = 5 * time.Minute
)

// AzureConfig holds the service principal used for the management API.
type AzureConfig struct {
	SubscriptionID string `env:"AZURE_SUBSCRIPTION_ID" validate:"required"`
	ClientID       string `env:"AZURE_CLIENT_ID" validate:"required"`
	ClientSecret   string `env:"AZURE_CLIENT_SECRET" validate:"required"`
	TenantID       string `env:"AZURE_TENANT_ID" validate:"required"`
}

// SQLConfig holds the server administrator login and connection settings.
type SQLConfig struct {
	AdminLogin    string        `env:"ADMINISTRATOR_LOGIN" validate:"required"`
	AdminPassword string        `env:"ADMINISTRATOR_LOGIN_PASSWORD" validate:"required"`
	Port          int           `env:"SQL_PORT" validate:"gt=0,lte=65535"`
	ReadyTimeout  time.Duration `env:"SQL_READY_TIMEOUT" validate:"gt=0"`
}

type StorageConfig struct {
	ConnectionString string `env:"STORAGE_CONNECTION_STRING" validate:"required"`
	Container        string `env:"STORAGE_CONTAINER" validate:"required"`
	Overwrite        bool   `env:"STORAGE_OVERWRITE"`
}

// SecurityConfig holds the database-side secrets used by the external data source.
type SecurityConfig struct {
	MasterKeyPassword string `env:"MASTER_KEY_PASSWORD" validate:"required"`
	SASToken          string `env:"STORAGE_SAS_TOKEN" validate:"required"`
	CredentialName    string `env:"CREDENTIAL_NAME" validate:"required"`
	DataSourceName    string `env:"DATA_SOURCE_NAME" validate:"required"`
}

// TargetConfig names the Azure resources the pipeline provisions and loads into.
type TargetConfig struct {
	ResourceGroup       string `env:"RESOURCE_GROUP" validate:"required"`
	Region              string `env:"REGION" validate:"required"`
	CreateResourceGroup bool   `env:"CREATE_RESOURCE_GROUP"`
	Server              string `env:"SQL_SERVER" validate:"required"`
	Database            string `env:"SQL_DATABASE" validate:"required"`
	Collation           string `env:"COLLATION" validate:"required"`
	PricingTier         string `env:"PRICING_TIER" validate:"required"`
	FirewallRule        string `env:"FIREWALL_RULE" validate:"required"`
	AllowedIP           string `env:"ALLOWED_IP" validate:"omitempty,ip"`
	Table               string `env:"SQL_TABLE" validate:"required"`
}

// SourceConfig selects which monthly extracts a run processes.
type SourceConfig struct {
	BaseURL   string `env:"SOURCE_BASE_URL" validate:"required"`
	StartYear int    `env:"START_YEAR" validate:"gt=0"`
	EndYear   int    `env:"END_YEAR" validate:"gt=0"`
	Offset    int    `env:"FILE_OFFSET" validate:"gte=0"`
	Count     int    `env:"FILE_COUNT"`
	DataDir   string `env:"DATA_DIR" validate:"required"`
}

type CheckpointConfig struct {
	ProjectID  string `env:"PROJECT_ID"`
	Collection string `env:"CHECKPOINT_COLLECTION" validate:"required"`
}

type HandoffConfig struct {
	ProjectID        string `env:"PROJECT_ID"`
	WorkflowID       string `env:"WORKFLOW_ID"`
	WorkflowLocation string `env:"WORKFLOW_LOCATION"`
}

// Config is the full set of recognised settings.
type Config struct {
	Azure       AzureConfig
	SQL         SQLConfig
	Storage     StorageConfig
	Security    SecurityConfig
	Target      TargetConfig
	Source      SourceConfig
	Checkpoints CheckpointConfig
	Handoff     HandoffConfig
}

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// Load reads the configuration from the environment. Defaults match the values the
// pipeline has always run with. Load does not validate; call ValidateProvisioning or
// ValidateLoading depending on what the caller is about to do.
func Load() (*Config, error) {
	var errs *multierror.Error

	readyTimeout, err := getEnvDuration("SQL_READY_TIMEOUT", DefaultReadyTimeout)
	errs = multierror.Append(errs, err)
	port, err := getEnvInt("SQL_PORT", 1433)
	errs = multierror.Append(errs, err)
	startYear, err := getEnvInt("START_YEAR", 2021)
	errs = multierror.Append(errs, err)
	endYear, err := getEnvInt("END_YEAR", 2021)
	errs = multierror.Append(errs, err)
	offset, err := getEnvInt("FILE_OFFSET", 1)
	errs = multierror.Append(errs, err)
	count, err := getEnvInt("FILE_COUNT", 1)
	errs = multierror.Append(errs, err)
	overwrite, err := getEnvBool("STORAGE_OVERWRITE", false)
	errs = multierror.Append(errs, err)
	createGroup, err := getEnvBool("CREATE_RESOURCE_GROUP", false)
	errs = multierror.Append(errs, err)

	if err := errs.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	projectID := GetEnv("PROJECT_ID", "")
	return &Config{
		Azure: AzureConfig{
			SubscriptionID: GetEnv("AZURE_SUBSCRIPTION_ID", ""),
			ClientID:       GetEnv("AZURE_CLIENT_ID", ""),
			ClientSecret:   GetEnv("AZURE_CLIENT_SECRET", ""),
			TenantID:       GetEnv("AZURE_TENANT_ID", ""),
		},
		SQL: SQLConfig{
			AdminLogin:    GetEnv("ADMINISTRATOR_LOGIN", ""),
			AdminPassword: GetEnv("ADMINISTRATOR_LOGIN_PASSWORD", ""),
			Port:          port,
			ReadyTimeout:  readyTimeout,
		},
		Storage: StorageConfig{
			ConnectionString: GetEnv("STORAGE_CONNECTION_STRING", ""),
			Container:        GetEnv("STORAGE_CONTAINER", "tlc-datax"),
			Overwrite:        overwrite,
		},
		Security: SecurityConfig{
			MasterKeyPassword: GetEnv("MASTER_KEY_PASSWORD", ""),
			SASToken:          GetEnv("STORAGE_SAS_TOKEN", ""),
			CredentialName:    GetEnv("CREDENTIAL_NAME", "BlobCredential"),
			DataSourceName:    GetEnv("DATA_SOURCE_NAME", "AzureBlob"),
		},
		Target: TargetConfig{
			ResourceGroup:       GetEnv("RESOURCE_GROUP", "tlc-data-rg"),
			Region:              GetEnv("REGION", "northeurope"),
			CreateResourceGroup: createGroup,
			Server:              GetEnv("SQL_SERVER", "tlc-data-serverx"),
			Database:            GetEnv("SQL_DATABASE", "tlc-data-dbx"),
			Collation:           GetEnv("COLLATION", "SQL_Latin1_General_CP1_CI_AS"),
			PricingTier:         GetEnv("PRICING_TIER", "S0"),
			FirewallRule:        GetEnv("FIREWALL_RULE", "test-rule"),
			AllowedIP:           GetEnv("ALLOWED_IP", ""),
			Table:               GetEnv("SQL_TABLE", "tlc_datax"),
		},
		Source: SourceConfig{
			BaseURL:   GetEnv("SOURCE_BASE_URL", DefaultSourceBaseURL),
			StartYear: startYear,
			EndYear:   endYear,
			Offset:    offset,
			Count:     count,
			DataDir:   GetEnv("DATA_DIR", "."),
		},
		Checkpoints: CheckpointConfig{
			ProjectID:  projectID,
			Collection: GetEnv("CHECKPOINT_COLLECTION", "pipelineRuns"),
		},
		Handoff: HandoffConfig{
			ProjectID:        projectID,
			WorkflowID:       GetEnv("WORKFLOW_ID", ""),
			WorkflowLocation: GetEnv("WORKFLOW_LOCATION", "us-central1"),
		},
	}, nil
}

// ValidateProvisioning checks everything a full provisioning run needs and reports
// every problem at once.
func (c *Config) ValidateProvisioning() error {
	errs := validateAll(c.Azure, c.SQL, c.Storage, c.Security, c.Target, c.Source, c.Checkpoints)
	if c.Target.AllowedIP == "" {
		errs = multierror.Append(errs, fmt.Errorf("ALLOWED_IP is required"))
	}
	if c.Handoff.WorkflowID != "" && c.Handoff.ProjectID == "" {
		errs = multierror.Append(errs, fmt.Errorf("PROJECT_ID is required when WORKFLOW_ID is set"))
	}
	return wrap(errs)
}

// ValidateLoading checks the subset needed to extract, upload and bulk load files
// into an already provisioned database.
func (c *Config) ValidateLoading() error {
	return wrap(validateAll(c.SQL, c.Storage, c.Target, c.Source))
}

func wrap(errs *multierror.Error) error {
	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func newValidator() *validator.Validate {
	validate := validator.New()
	// Report fields by the environment variable that sets them.
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		if name := field.Tag.Get("env"); name != "" {
			return name
		}
		return field.Name
	})
	return validate
}

func validateAll(sections ...interface{}) *multierror.Error {
	validate := newValidator()
	var errs *multierror.Error
	for _, section := range sections {
		err := validate.Struct(section)
		if err == nil {
			continue
		}
		validationErrs, ok := err.(validator.ValidationErrors)
		if !ok {
			errs = multierror.Append(errs, err)
			continue
		}
		for _, fieldErr := range validationErrs {
			errs = multierror.Append(errs, describe(fieldErr))
		}
	}
	return errs
}

func describe(fieldErr validator.FieldError) error {
	switch fieldErr.Tag() {
	case "required":
		return fmt.Errorf("%s is required", fieldErr.Field())
	case "ip":
		return fmt.Errorf("%s must be an IP address, got %q", fieldErr.Field(), fieldErr.Value())
	default:
		return fmt.Errorf("%s failed %q check (value %v)", fieldErr.Field(), fieldErr.ActualTag(), fieldErr.Value())
	}
}

func getEnvInt(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return value, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return value, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return value, nil
}
