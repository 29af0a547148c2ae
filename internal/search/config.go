package search

// Config holds OpenSearch client connection parameters with environment
// variable mapping.
type Config struct {
	Addresses    []string `env:"OPENSEARCH_ADDRESSES" envDefault:"http://localhost:9200"`
	Username     string   `env:"OPENSEARCH_USERNAME"`
	Password     string   `env:"OPENSEARCH_PASSWORD"`
	MaxRetries   int      `env:"OPENSEARCH_MAX_RETRIES" envDefault:"3"`
	DisableRetry bool     `env:"OPENSEARCH_DISABLE_RETRY" envDefault:"false"`
	LoansIndex   string   `env:"OPENSEARCH_LOANS_INDEX" envDefault:"loans"`
}
