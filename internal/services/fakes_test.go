package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/Lllllllleong/tlcdataflow/internal/azure"
	"github.com/stretchr/testify/mock"
)

// fakeBlobStore keeps containers and blobs in memory.
type fakeBlobStore struct {
	mu         sync.Mutex
	containers map[string]map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{containers: map[string]map[string][]byte{}}
}

func (s *fakeBlobStore) ContainerURL(container string) string {
	return "https://tlcstorage.blob.core.windows.net/" + container
}

func (s *fakeBlobStore) CreateContainer(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.containers[name]; ok {
		return fmt.Errorf("container %q: %w", name, azure.ErrAlreadyExists)
	}
	s.containers[name] = map[string][]byte{}
	return nil
}

func (s *fakeBlobStore) UploadFile(_ context.Context, container, blobName string, file *os.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	blobs, ok := s.containers[container]
	if !ok {
		return fmt.Errorf("ContainerNotFound: %s", container)
	}
	if _, exists := blobs[blobName]; exists {
		return fmt.Errorf("blob %s/%s: %w", container, blobName, azure.ErrAlreadyExists)
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}
	blobs[blobName] = data
	return nil
}

func (s *fakeBlobStore) blob(container, name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.containers[container][name]
	return data, ok
}

type fakeDatabase struct {
	masterKey   bool
	credentials map[string]bool
	dataSources map[string]string
	tables      map[string]*fakeTable
}

type fakeTable struct {
	columns int
	rows    int
}

// fakeSQLServer interprets the statements the provisioner issues closely enough to
// reproduce SQL Server's ordering errors.
type fakeSQLServer struct {
	mu         sync.Mutex
	blobs      *fakeBlobStore
	databases  map[string]*fakeDatabase
	statements []string
	readyErr   error
	readyCalls int
}

func newFakeSQLServer(blobs *fakeBlobStore) *fakeSQLServer {
	return &fakeSQLServer{blobs: blobs, databases: map[string]*fakeDatabase{}}
}

func (s *fakeSQLServer) addDatabase(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.databases[name] = &fakeDatabase{
		credentials: map[string]bool{},
		dataSources: map[string]string{},
		tables:      map[string]*fakeTable{},
	}
}

var (
	credentialRe = regexp.MustCompile(`^CREATE DATABASE SCOPED CREDENTIAL (\[.+?\]) WITH`)
	dataSourceRe = regexp.MustCompile(`^CREATE EXTERNAL DATA SOURCE (\[.+?\]) WITH \(TYPE = BLOB_STORAGE, LOCATION = '(.+?)', CREDENTIAL = (\[.+?\])\)$`)
	tableRe      = regexp.MustCompile(`(?s)^DROP TABLE IF EXISTS (\S+);\nCREATE TABLE (\S+) \((.*)\);$`)
	bulkRe       = regexp.MustCompile(`^BULK INSERT (\S+) FROM '(.+?)' WITH \(DATA_SOURCE = '(.+?)', FORMAT = 'CSV', FIRSTROW = 2\)$`)
)

func (s *fakeSQLServer) Exec(_ context.Context, database, statement string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statements = append(s.statements, statement)

	db, ok := s.databases[database]
	if !ok {
		return fmt.Errorf("Cannot open database %q requested by the login", database)
	}

	switch {
	case strings.HasPrefix(statement, "CREATE MASTER KEY"):
		if db.masterKey {
			return fmt.Errorf("There is already a master key in the database")
		}
		db.masterKey = true
	case credentialRe.MatchString(statement):
		name := credentialRe.FindStringSubmatch(statement)[1]
		if !db.masterKey {
			return fmt.Errorf("Please create a master key in the database before performing this operation")
		}
		if db.credentials[name] {
			return fmt.Errorf("The credential with name %s already exists", name)
		}
		db.credentials[name] = true
	case dataSourceRe.MatchString(statement):
		m := dataSourceRe.FindStringSubmatch(statement)
		if !db.credentials[m[3]] {
			return fmt.Errorf("Cannot find the CREDENTIAL %s, because it does not exist or you do not have permission", m[3])
		}
		db.dataSources[m[1]] = m[2]
	case tableRe.MatchString(statement):
		m := tableRe.FindStringSubmatch(statement)
		delete(db.tables, m[1])
		if _, exists := db.tables[m[2]]; exists {
			return fmt.Errorf("There is already an object named %s in the database", m[2])
		}
		db.tables[m[2]] = &fakeTable{columns: len(strings.Split(m[3], ","))}
	case bulkRe.MatchString(statement):
		m := bulkRe.FindStringSubmatch(statement)
		table, ok := db.tables[m[1]]
		if !ok {
			return fmt.Errorf("Invalid object name %s", m[1])
		}
		location, ok := db.dataSources["["+m[3]+"]"]
		if !ok {
			return fmt.Errorf("External data source %s does not exist", m[3])
		}
		container := location[strings.LastIndex(location, "/")+1:]
		data, ok := s.blobs.blob(container, m[2])
		if !ok {
			return fmt.Errorf("Cannot bulk load because the file %q does not exist", m[2])
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		table.rows += len(lines) - 1
	default:
		return fmt.Errorf("Incorrect syntax near %q", statement)
	}
	return nil
}

func (s *fakeSQLServer) WaitReady(_ context.Context, database string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readyCalls++
	return s.readyErr
}

func (s *fakeSQLServer) table(database, name string) (*fakeTable, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.databases[database]
	if !ok {
		return nil, false
	}
	table, ok := db.tables[name]
	return table, ok
}

func (s *fakeSQLServer) tableCount(database string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.databases[database].tables)
}

type mockResourceManager struct {
	mock.Mock
}

func (m *mockResourceManager) CreateResourceGroup(ctx context.Context, name, region string) error {
	return m.Called(ctx, name, region).Error(0)
}

func (m *mockResourceManager) CreateServer(ctx context.Context, group, name string, spec azure.ServerSpec) error {
	return m.Called(ctx, group, name, spec).Error(0)
}

func (m *mockResourceManager) CreateDatabase(ctx context.Context, group, server, name string, spec azure.DatabaseSpec) error {
	return m.Called(ctx, group, server, name, spec).Error(0)
}

func (m *mockResourceManager) CreateFirewallRule(ctx context.Context, group, server, rule, startIP, endIP string) error {
	return m.Called(ctx, group, server, rule, startIP, endIP).Error(0)
}

// expectProvisioning sets up successful management calls; creating the database
// makes it reachable on the fake SQL server.
func expectProvisioning(mgmt *mockResourceManager, sqlServer *fakeSQLServer, cfg DatabaseConfig) {
	mgmt.On("CreateServer", mock.Anything, cfg.ResourceGroup, cfg.Server, azure.ServerSpec{
		Region:        cfg.Region,
		AdminLogin:    cfg.AdminLogin,
		AdminPassword: cfg.AdminPassword,
	}).Return(nil)
	mgmt.On("CreateDatabase", mock.Anything, cfg.ResourceGroup, cfg.Server, cfg.Database, azure.DatabaseSpec{
		Region:      cfg.Region,
		Collation:   cfg.Collation,
		PricingTier: cfg.PricingTier,
	}).Run(func(args mock.Arguments) {
		sqlServer.addDatabase(args.String(3))
	}).Return(nil)
	mgmt.On("CreateFirewallRule", mock.Anything, cfg.ResourceGroup, cfg.Server, cfg.FirewallRule, cfg.AllowedIPStart, cfg.AllowedIPStart).Return(nil)
}

func testDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		ResourceGroup:     "tlc-data-rg",
		Region:            "northeurope",
		Server:            "tlc-data-serverx",
		Database:          "tlc-data-dbx",
		Collation:         "SQL_Latin1_General_CP1_CI_AS",
		PricingTier:       "S0",
		AdminLogin:        "admin",
		AdminPassword:     "pw",
		FirewallRule:      "test-rule",
		AllowedIPStart:    "88.118.83.237",
		MasterKeyPassword: "abcdefg123456ABCDEFG",
		CredentialName:    "BlobCredential",
		SASToken:          "?sv=2020-08-04&sig=abc",
		DataSourceName:    "AzureBlob",
		Table:             "tlc_datax",
	}
}

const tripCSV = `VendorID,tpep_pickup_datetime,tpep_dropoff_datetime,passenger_count,trip_distance,RatecodeID,store_and_fwd_flag,PULocationID,DOLocationID,payment_type,fare_amount,extra,mta_tax,tip_amount,tolls_amount,improvement_surcharge,total_amount,congestion_surcharge
1,2021-07-01 00:08:36,2021-07-01 00:13:46,1,0.9,1,N,161,237,1,5.5,3,0.5,1.85,0,0.3,11.15,2.5
2,2021-07-01 00:25:32,2021-07-01 00:31:00,1,1.51,1,N,186,100,2,7,0.5,0.5,0,0,0.3,10.8,2.5
1,2021-07-01 00:05:58,2021-07-01 00:16:34,1,2.4,1,N,234,249,1,10,3,0.5,2.75,0,0.3,16.55,2.5
`
