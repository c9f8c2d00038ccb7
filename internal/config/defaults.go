package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host:                   "0.0.0.0",
			Port:                   8000,
			ShutdownTimeoutSeconds: 10,
		},
		Ollama: OllamaConfig{
			BaseURL:                  "http://127.0.0.1:11434",
			RequestTimeoutSeconds:    60,
			StreamIdleTimeoutSeconds: 60,
		},
		Storage: StorageConfig{
			ChatsDir: "data/chats",
		},
		Search: SearchConfig{
			BaseURL:        "https://html.duckduckgo.com/html/",
			TimeoutSeconds: 10,
			MaxResults:     5,
		},
		Audit: AuditConfig{
			Enabled: true,
			DBPath:  "data/audit.db",
		},
	}
}
