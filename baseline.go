package assets

// BaselineManifest returns the built-in asset set for the FLUX.2 Klein 9B
// stack: the main diffusion model (gated, requires a Hugging Face token),
// the Qwen text encoder, and the FLUX2 VAE. Sizes are not pinned because
// upstream repositories occasionally republish files; the registry-reported
// length is still verified on every fetch.
func BaselineManifest() Manifest {
	return Manifest{
		{
			Source: "black-forest-labs/FLUX.2-klein-9B/flux-2-klein-9b.safetensors",
			Kind:   KindDiffusionModel,
			Name:   "flux-2-klein-9b.safetensors",
			Scope:  ScopeHuggingFace,
		},
		{
			Source: "Comfy-Org/vae-text-encorder-for-flux-klein-9b/split_files/text_encoders/qwen_3_8b_fp8mixed.safetensors",
			Kind:   KindTextEncoder,
			Name:   "qwen_3_8b_fp8mixed.safetensors",
		},
		{
			Source: "Comfy-Org/flux2-dev/split_files/vae/flux2-vae.safetensors",
			Kind:   KindVAE,
			Name:   "flux2-vae.safetensors",
		},
	}
}
