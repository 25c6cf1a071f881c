// Package ollama provides AI service implementations using the native Ollama API.
//
// It implements ai.AIProvider with langchaingo's Ollama client. Hosts are
// given without the /v1 suffix; Config.Normalize removes it if present.
//
//	config := ai.NewConfig(ai.WithHost("http://localhost:11434"))
//	provider, err := ollama.NewProvider(config)
package ollama
