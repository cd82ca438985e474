package services

import (
	"context"
	"log/slog"

	"github.com/Lllllllleong/tlcdataflow/internal/azure"
	"github.com/Lllllllleong/tlcdataflow/internal/models"
)

// ResourceManager is the slice of the cloud management API the provisioner needs.
type ResourceManager interface {
	CreateResourceGroup(ctx context.Context, name, region string) error
	CreateServer(ctx context.Context, group, name string, spec azure.ServerSpec) error
	CreateDatabase(ctx context.Context, group, server, name string, spec azure.DatabaseSpec) error
	CreateFirewallRule(ctx context.Context, group, server, rule, startIP, endIP string) error
}

// SQLExecutor runs statements against a database on the target server.
type SQLExecutor interface {
	Exec(ctx context.Context, database, statement string) error
	WaitReady(ctx context.Context, database string) error
}

// DatabaseConfig holds the names and secrets for the database chain.
type DatabaseConfig struct {
	ResourceGroup     string
	Region            string
	Server            string
	Database          string
	Collation         string
	PricingTier       string
	AdminLogin        string
	AdminPassword     string
	FirewallRule      string
	AllowedIPStart    string
	AllowedIPEnd      string
	MasterKeyPassword string
	CredentialName    string
	SASToken          string
	DataSourceName    string
	Schema            string
	Table             string
}

// DatabaseProvisioner provisions the SQL server chain and bulk loads files.
// The steps must run in this order: server, database, firewall, master key,
// credential, external data source, table, then any number of loads.
type DatabaseProvisioner struct {
	mgmt   ResourceManager
	sql    SQLExecutor
	config DatabaseConfig
}

func NewDatabaseProvisioner(mgmt ResourceManager, sql SQLExecutor, config DatabaseConfig) *DatabaseProvisioner {
	if config.Schema == "" {
		config.Schema = "dbo"
	}
	if config.AllowedIPEnd == "" {
		config.AllowedIPEnd = config.AllowedIPStart
	}
	return &DatabaseProvisioner{mgmt: mgmt, sql: sql, config: config}
}

func (p *DatabaseProvisioner) logCtx() *slog.Logger {
	return slog.With("server", p.config.Server, "database", p.config.Database)
}

func (p *DatabaseProvisioner) CreateResourceGroup(ctx context.Context) error {
	p.logCtx().Info("Creating resource group.", "resourceGroup", p.config.ResourceGroup, "region", p.config.Region)
	return p.mgmt.CreateResourceGroup(ctx, p.config.ResourceGroup, p.config.Region)
}

// CreateServer fails if the resource group is missing or the server name is
// taken by another subscription.
func (p *DatabaseProvisioner) CreateServer(ctx context.Context) error {
	p.logCtx().Info("Creating a new server.", "region", p.config.Region)
	err := p.mgmt.CreateServer(ctx, p.config.ResourceGroup, p.config.Server, azure.ServerSpec{
		Region:        p.config.Region,
		AdminLogin:    p.config.AdminLogin,
		AdminPassword: p.config.AdminPassword,
	})
	if err != nil {
		return err
	}
	p.logCtx().Info("Server created successfully.")
	return nil
}

func (p *DatabaseProvisioner) CreateDatabase(ctx context.Context) error {
	p.logCtx().Info("Creating a new database.", "collation", p.config.Collation, "pricingTier", p.config.PricingTier)
	err := p.mgmt.CreateDatabase(ctx, p.config.ResourceGroup, p.config.Server, p.config.Database, azure.DatabaseSpec{
		Region:      p.config.Region,
		Collation:   p.config.Collation,
		PricingTier: p.config.PricingTier,
	})
	if err != nil {
		return err
	}
	p.logCtx().Info("Database created successfully.")
	return nil
}

// WhitelistIP adds the firewall rule and then waits until the database accepts
// connections.
func (p *DatabaseProvisioner) WhitelistIP(ctx context.Context) error {
	logCtx := p.logCtx().With("rule", p.config.FirewallRule, "startIp", p.config.AllowedIPStart, "endIp", p.config.AllowedIPEnd)
	logCtx.Info("Creating a new firewall rule.")
	if err := p.mgmt.CreateFirewallRule(ctx, p.config.ResourceGroup, p.config.Server, p.config.FirewallRule, p.config.AllowedIPStart, p.config.AllowedIPEnd); err != nil {
		return err
	}
	logCtx.Info("Waiting for the firewall rule to take effect.")
	return p.sql.WaitReady(ctx, p.config.Database)
}

// EncryptDatabase creates the master key that protects scoped credentials.
func (p *DatabaseProvisioner) EncryptDatabase(ctx context.Context) error {
	p.logCtx().Info("Creating database master key.")
	return p.sql.Exec(ctx, p.config.Database, masterKeyStatement(p.config.MasterKeyPassword))
}

// CreateCredentials stores the SAS token as a database scoped credential.
// Requires the master key.
func (p *DatabaseProvisioner) CreateCredentials(ctx context.Context) error {
	p.logCtx().Info("Creating database scoped credential.", "credential", p.config.CredentialName)
	return p.sql.Exec(ctx, p.config.Database, credentialStatement(p.config.CredentialName, p.config.SASToken))
}

// CreateExternalDataSource points the database at a blob container URL using the
// scoped credential.
func (p *DatabaseProvisioner) CreateExternalDataSource(ctx context.Context, location string) error {
	p.logCtx().Info("Creating external data source.", "dataSource", p.config.DataSourceName, "location", location)
	return p.sql.Exec(ctx, p.config.Database, externalDataSourceStatement(p.config.DataSourceName, location, p.config.CredentialName))
}

// CreateTable drops and recreates the trip table, so repeated calls are safe.
func (p *DatabaseProvisioner) CreateTable(ctx context.Context) error {
	logCtx := p.logCtx().With("table", p.config.Table)
	logCtx.Info("Creating a table.")
	if err := p.sql.Exec(ctx, p.config.Database, createTableStatement(p.config.Schema, p.config.Table, models.TripColumns)); err != nil {
		return err
	}
	logCtx.Info("Table created successfully.")
	return nil
}

// LoadCSV bulk inserts a blob from the external data source into the table.
// Rows are appended: loading the same file twice duplicates them.
func (p *DatabaseProvisioner) LoadCSV(ctx context.Context, fileName string) error {
	logCtx := p.logCtx().With("table", p.config.Table, "fileName", fileName)
	logCtx.Info("Bulk inserting file.")
	if err := p.sql.Exec(ctx, p.config.Database, bulkInsertStatement(p.config.Schema, p.config.Table, fileName, p.config.DataSourceName)); err != nil {
		return err
	}
	logCtx.Info("Bulk insert successful.")
	return nil
}
