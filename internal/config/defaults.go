package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Storage.StoreType == "" {
		cfg.Storage.StoreType = "dir"
	}
	if cfg.Storage.ChunkPath == "" {
		cfg.Storage.ChunkPath = "./data/chunks"
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = "./data/index/index.bin"
	}
	if cfg.Storage.MetaPath == "" {
		cfg.Storage.MetaPath = "./data/index/meta.json"
	}
	if cfg.Storage.InfoPath == "" {
		cfg.Storage.InfoPath = "./data/index/info.json"
	}
	if cfg.Chunking.MaxTokens == 0 {
		cfg.Chunking.MaxTokens = 450
	}
	if cfg.Chunking.MinTokens == 0 {
		cfg.Chunking.MinTokens = 60
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1536
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = 30
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1024
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "gpt-4o-mini"
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 1000
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = 0.6
	}
	if cfg.Generation.TimeoutSeconds == 0 {
		cfg.Generation.TimeoutSeconds = 120
	}
	if cfg.Index.BatchSize == 0 {
		cfg.Index.BatchSize = 16
	}
	if cfg.Index.Workers == 0 {
		cfg.Index.Workers = 4
	}
	if cfg.Query.DefaultTopK == 0 {
		cfg.Query.DefaultTopK = 5
	}
	if cfg.Query.MaxTopK == 0 {
		cfg.Query.MaxTopK = 20
	}
	if cfg.Query.SnippetChars == 0 {
		cfg.Query.SnippetChars = 250
	}
	if cfg.Query.MaxResultChars == 0 {
		cfg.Query.MaxResultChars = 1500
	}
	if cfg.Watch.DebounceMS == 0 {
		cfg.Watch.DebounceMS = 400
	}
}
