// Package azure holds the Azure SDK adapters: credentials, blob storage and the
// SQL management API.
package azure

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/sql/armsql"
)

// ServerSpec describes a logical SQL server.
type ServerSpec struct {
	Region        string
	AdminLogin    string
	AdminPassword string
}

// DatabaseSpec describes a database on a logical server. Collation is fixed at
// creation; changing it later needs a migration.
type DatabaseSpec struct {
	Region      string
	Collation   string
	PricingTier string
}

// Management creates resource groups, SQL servers, databases and firewall rules.
type Management struct {
	groups    *armresources.ResourceGroupsClient
	servers   *armsql.ServersClient
	databases *armsql.DatabasesClient
	firewall  *armsql.FirewallRulesClient
}

func NewManagement(subscriptionID string, cred azcore.TokenCredential) (*Management, error) {
	if subscriptionID == "" {
		return nil, fmt.Errorf("subscriptionID must be provided to create management clients")
	}
	groups, err := armresources.NewResourceGroupsClient(subscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource groups client: %w", err)
	}
	servers, err := armsql.NewServersClient(subscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQL servers client: %w", err)
	}
	databases, err := armsql.NewDatabasesClient(subscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQL databases client: %w", err)
	}
	firewall, err := armsql.NewFirewallRulesClient(subscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQL firewall rules client: %w", err)
	}
	return &Management{groups: groups, servers: servers, databases: databases, firewall: firewall}, nil
}

func (m *Management) CreateResourceGroup(ctx context.Context, name, region string) error {
	_, err := m.groups.CreateOrUpdate(ctx, name, armresources.ResourceGroup{Location: to.Ptr(region)}, nil)
	if err != nil {
		return fmt.Errorf("failed to create resource group %q: %w", name, err)
	}
	return nil
}

// CreateServer blocks until the long-running create operation finishes.
func (m *Management) CreateServer(ctx context.Context, group, name string, spec ServerSpec) error {
	poller, err := m.servers.BeginCreateOrUpdate(ctx, group, name, armsql.Server{
		Location: to.Ptr(spec.Region),
		Properties: &armsql.ServerProperties{
			AdministratorLogin:         to.Ptr(spec.AdminLogin),
			AdministratorLoginPassword: to.Ptr(spec.AdminPassword),
			Version:                    to.Ptr("12.0"),
		},
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to start creating server %q: %w", name, err)
	}
	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		return fmt.Errorf("failed to create server %q: %w", name, err)
	}
	return nil
}

func (m *Management) CreateDatabase(ctx context.Context, group, server, name string, spec DatabaseSpec) error {
	poller, err := m.databases.BeginCreateOrUpdate(ctx, group, server, name, armsql.Database{
		Location: to.Ptr(spec.Region),
		SKU:      &armsql.SKU{Name: to.Ptr(spec.PricingTier)},
		Properties: &armsql.DatabaseProperties{
			Collation:  to.Ptr(spec.Collation),
			CreateMode: to.Ptr(armsql.CreateModeDefault),
		},
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to start creating database %q: %w", name, err)
	}
	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		return fmt.Errorf("failed to create database %q: %w", name, err)
	}
	return nil
}

// CreateFirewallRule allows startIP..endIP to reach the server. The rule takes a
// while to propagate after this call returns.
func (m *Management) CreateFirewallRule(ctx context.Context, group, server, rule, startIP, endIP string) error {
	_, err := m.firewall.CreateOrUpdate(ctx, group, server, rule, armsql.FirewallRule{
		Properties: &armsql.ServerFirewallRuleProperties{
			StartIPAddress: to.Ptr(startIP),
			EndIPAddress:   to.Ptr(endIP),
		},
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to create firewall rule %q on %q: %w", rule, server, err)
	}
	return nil
}
