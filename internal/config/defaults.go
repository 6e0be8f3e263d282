package config

// DefaultModel is the encoder used when a store is created without a model id.
const DefaultModel = "hash/embed-v1"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./data"
	}
	if cfg.Jobs.Backend == "" {
		cfg.Jobs.Backend = JobsBackendFile
	}
	if cfg.Jobs.DefaultBatchSize == 0 {
		cfg.Jobs.DefaultBatchSize = 64
	}
	if cfg.Embedding.DefaultModel == "" {
		cfg.Embedding.DefaultModel = DefaultModel
	}
	if cfg.Embedding.ModelsDir == "" {
		cfg.Embedding.ModelsDir = "./data/models"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.Concurrency == 0 {
		cfg.Embedding.Concurrency = 4
	}
	if cfg.Graph.K == 0 {
		cfg.Graph.K = 10
	}
	if cfg.Graph.EfConstruction == 0 {
		cfg.Graph.EfConstruction = 200
	}
	if cfg.Graph.M == 0 {
		cfg.Graph.M = 32
	}
	if cfg.Graph.InsertChunk == 0 {
		cfg.Graph.InsertChunk = 4
	}
	if cfg.Watch.InboxDir == "" {
		cfg.Watch.InboxDir = "./data/inbox"
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".rst", ".csv", ".jsonl", ".pdf", ".docx", ".xlsx", ".ods", ".odt", ".rtf"}
	}
}
