package models

// SourceReference points at one monthly extract and the local file name it is saved under.
type SourceReference struct {
	Year     int
	Month    int
	URL      string
	FileName string
}

// Column is a single column of the destination table.
type Column struct {
	Name string
	Type string
}

// TripColumns is the yellow-taxi trip record layout. BULK INSERT maps CSV fields
// positionally, so the order must match the source files exactly.
var TripColumns = []Column{
	{Name: "VendorID", Type: "int"},
	{Name: "tpep_pickup_datetime", Type: "datetime"},
	{Name: "tpep_dropoff_datetime", Type: "datetime"},
	{Name: "passenger_count", Type: "int"},
	{Name: "trip_distance", Type: "float"},
	{Name: "RatecodeID", Type: "int"},
	{Name: "store_and_fwd_flag", Type: "char"},
	{Name: "PULocationID", Type: "int"},
	{Name: "DOLocationID", Type: "int"},
	{Name: "payment_type", Type: "int"},
	{Name: "fare_amount", Type: "float"},
	{Name: "extra", Type: "float"},
	{Name: "mta_tax", Type: "float"},
	{Name: "tip_amount", Type: "float"},
	{Name: "tolls_amount", Type: "float"},
	{Name: "improvement_surcharge", Type: "float"},
	{Name: "total_amount", Type: "float"},
	{Name: "congestion_surcharge", Type: "float"},
}
