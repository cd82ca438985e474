package services

import (
	"fmt"
	"strings"

	"github.com/Lllllllleong/tlcdataflow/internal/models"
)

// T-SQL DDL cannot take bind parameters, so names and secrets are quoted here.

func quoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

func masterKeyStatement(password string) string {
	return "CREATE MASTER KEY ENCRYPTION BY PASSWORD = " + quoteLiteral(password)
}

func credentialStatement(name, sasToken string) string {
	return fmt.Sprintf(
		"CREATE DATABASE SCOPED CREDENTIAL %s WITH IDENTITY = 'SHARED ACCESS SIGNATURE', SECRET = %s",
		quoteIdent(name), quoteLiteral(strings.TrimPrefix(sasToken, "?")),
	)
}

func externalDataSourceStatement(name, location, credential string) string {
	return fmt.Sprintf(
		"CREATE EXTERNAL DATA SOURCE %s WITH (TYPE = BLOB_STORAGE, LOCATION = %s, CREDENTIAL = %s)",
		quoteIdent(name), quoteLiteral(location), quoteIdent(credential),
	)
}

func qualifiedTable(schema, table string) string {
	return quoteIdent(schema) + "." + quoteIdent(table)
}

func createTableStatement(schema, table string, columns []models.Column) string {
	defs := make([]string, len(columns))
	for i, col := range columns {
		defs[i] = quoteIdent(col.Name) + " " + col.Type
	}
	name := qualifiedTable(schema, table)
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;\nCREATE TABLE %s (\n\t%s\n);", name, name, strings.Join(defs, ",\n\t"))
}

// bulkInsertStatement reads fileName through the external data source, skipping the
// CSV header row.
func bulkInsertStatement(schema, table, fileName, dataSource string) string {
	return fmt.Sprintf(
		"BULK INSERT %s FROM %s WITH (DATA_SOURCE = %s, FORMAT = 'CSV', FIRSTROW = 2)",
		qualifiedTable(schema, table), quoteLiteral(fileName), quoteLiteral(dataSource),
	)
}
