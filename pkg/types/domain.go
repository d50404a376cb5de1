package types

// Model represents a loadable model file on disk.
type Model struct {
	// Identifier (file name including extension).
	// example: gpt-neo-2.7B.Q4_K_M.gguf
	ID string `json:"id" example:"gpt-neo-2.7B.Q4_K_M.gguf"`
	// Human-friendly name (file name without extension).
	// example: gpt-neo-2.7B.Q4_K_M
	Name string `json:"name" example:"gpt-neo-2.7B.Q4_K_M"`
	// Absolute path to the model file on disk.
	// example: /home/user/models/gpt-neo-2.7B.Q4_K_M.gguf
	Path string `json:"path" example:"/home/user/models/gpt-neo-2.7B.Q4_K_M.gguf"`
}
