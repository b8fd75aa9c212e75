package assets

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// modelPathsDoc is the shape of the GUI's extra_model_paths.yaml: a single
// "comfyui" section whose keys map model categories to newline-separated
// search paths.
type modelPathsDoc struct {
	ComfyUI map[string]string `yaml:"comfyui"`
}

// RenderModelPaths produces the extra_model_paths.yaml contents that point
// the GUI at both its bundled model directories and the persistent store.
// comfyDir is the GUI install directory; storeDir is the store root as
// mounted in the container.
func RenderModelPaths(comfyDir, storeDir string) ([]byte, error) {
	paths := map[string]string{
		"base_path": comfyDir,
	}

	// Kinds the store provisions search both locations; the GUI's own
	// text encoder category is named "clip".
	guiKey := map[AssetKind]string{
		KindCheckpoint:     "checkpoints",
		KindDiffusionModel: "diffusion_models",
		KindVAE:            "vae",
		KindLoRA:           "loras",
		KindTextEncoder:    "clip",
		KindControlNet:     "controlnet",
	}
	for _, kind := range Kinds() {
		key := guiKey[kind]
		paths[key] = fmt.Sprintf("%s/models/%s\n%s/%s", comfyDir, key, storeDir, kind)
	}

	// GUI-only categories keep their bundled locations.
	for _, key := range []string{"clip_vision", "configs", "embeddings", "upscale_models", "vae_approx"} {
		paths[key] = fmt.Sprintf("%s/models/%s", comfyDir, key)
	}

	return yaml.Marshal(modelPathsDoc{ComfyUI: paths})
}

// ValidateModelPaths checks that rendered model-paths YAML parses and
// carries the section and base path the GUI requires.
func ValidateModelPaths(data []byte) error {
	var doc modelPathsDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid model paths yaml: %w", err)
	}
	if doc.ComfyUI == nil {
		return fmt.Errorf("model paths yaml: missing comfyui section")
	}
	if doc.ComfyUI["base_path"] == "" {
		return fmt.Errorf("model paths yaml: missing base_path")
	}
	return nil
}
