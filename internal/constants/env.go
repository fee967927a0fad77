// Package constants provides centralized definitions of constants used throughout the application
package constants

// Environment variable names
const (
	// EnvFleetAPIURL is the environment variable containing the base URL of the GPU fleet control API
	EnvFleetAPIURL = "CLIPFORGE_FLEET_API_URL"

	// EnvFleetAPIKey is the environment variable containing the API key for the GPU fleet control API
	EnvFleetAPIKey = "CLIPFORGE_FLEET_API_KEY"

	// EnvInstanceID is the environment variable containing the id of the rented GPU instance
	EnvInstanceID = "CLIPFORGE_INSTANCE_ID"

	// EnvInstanceCacheFile is the environment variable pointing at the JSON file caching the instance id across restarts
	EnvInstanceCacheFile = "CLIPFORGE_INSTANCE_CACHE_FILE"

	// EnvAutoStopDisabled disables the idle auto-stop of the GPU instance when set to "true"
	EnvAutoStopDisabled = "CLIPFORGE_AUTO_STOP_DISABLED"

	// EnvGPUConcurrency is the environment variable bounding concurrent GPU-process stages
	EnvGPUConcurrency = "CLIPFORGE_GPU_CONCURRENCY"

	// EnvWorkDir is the environment variable containing the root of all job working directories
	EnvWorkDir = "CLIPFORGE_WORK_DIR"

	// EnvListenAddr is the environment variable containing the HTTP listen address
	EnvListenAddr = "CLIPFORGE_LISTEN_ADDR"

	// EnvWhisperModel selects the transcription model size
	EnvWhisperModel = "WHISPER_MODEL"

	// EnvCutOffload routes clip cutting through the GPU host when set to "true"
	EnvCutOffload = "CLIPFORGE_CUT_OFFLOAD"

	// EnvLLMAPIURL is the environment variable containing the base URL of the OpenAI-compatible chat API
	EnvLLMAPIURL = "CLIPFORGE_LLM_API_URL"

	// EnvLLMAPIKey is the environment variable containing the API key for the chat API
	EnvLLMAPIKey = "CLIPFORGE_LLM_API_KEY"

	// EnvLLMModel is the environment variable selecting the chat model used to pick clips
	EnvLLMModel = "CLIPFORGE_LLM_MODEL"
)
