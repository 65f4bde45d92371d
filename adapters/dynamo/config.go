package dynamostore

// Config names the graph table and its keys.
type Config struct {
	Table        string
	PartitionKey string
	SortKey      string
	// IndexName is a global secondary index keyed by SortKey, used to list
	// the vertices of a stem.
	IndexName string

	// Optional: AWS region; falls back to default chain if empty
	Region string
	// Optional: endpoint override, e.g. a localstack URL
	Endpoint string
}

// DefaultConfig provides the table layout used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Table:        "GraphObjects",
		PartitionKey: "sid_value",
		SortKey:      "identifier_stem",
		IndexName:    "stems",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Table == "" {
		c.Table = d.Table
	}
	if c.PartitionKey == "" {
		c.PartitionKey = d.PartitionKey
	}
	if c.SortKey == "" {
		c.SortKey = d.SortKey
	}
	if c.IndexName == "" {
		c.IndexName = d.IndexName
	}
	return c
}
