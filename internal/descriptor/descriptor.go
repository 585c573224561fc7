package descriptor

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"

	"reelchain/internal/services"
)

// Two-pass sampling parameters fixed by the Wan2.2 I2V workflow.
const (
	SamplerSteps     = 20
	SamplerCFG       = 3.5
	SamplerName      = "euler"
	SamplerScheduler = "simple"
	SplitStep        = 10
	FinalStep        = 10000
	ModelShift       = 8.0
	LoRAStrength     = 1.0

	maxSeed = 1 << 53
)

// Node ids used by the graph. The LoRA nodes only exist when configured.
const (
	NodeCLIPLoader     = "1"
	NodeVAELoader      = "2"
	NodeHighNoiseUNET  = "3"
	NodeLowNoiseUNET   = "4"
	NodeHighNoiseShift = "5"
	NodeLowNoiseShift  = "6"
	NodePositivePrompt = "7"
	NodeNegativePrompt = "8"
	NodeLoadImage      = "9"
	NodeImageToVideo   = "10"
	NodeFirstPass      = "11"
	NodeSecondPass     = "12"
	NodeVAEDecode      = "13"
	NodeCreateVideo    = "14"
	NodeSaveVideo      = "15"
	NodeHighNoiseLoRA  = "101"
	NodeLowNoiseLoRA   = "102"
)

// Models names the checkpoint files loaded by the graph.
type Models struct {
	TextEncoder string
	VAE         string
	HighNoise   string
	LowNoise    string
}

// Params describes one segment render.
type Params struct {
	PositivePrompt string
	NegativePrompt string
	StartImage     string
	Width          int
	Height         int
	Frames         int
	FPS            int
	OutputPrefix   string
	Seed           int64
	Models         Models
	HighNoiseLoRA  string
	LowNoiseLoRA   string
}

// Link references output slot Output of node Node. It encodes as ["id", slot].
type Link struct {
	Node   string
	Output int
}

// MarshalJSON implements json.Marshaler.
func (l Link) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{l.Node, l.Output})
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *Link) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("link: expected 2 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &l.Node); err != nil {
		return fmt.Errorf("link node: %w", err)
	}
	if err := json.Unmarshal(raw[1], &l.Output); err != nil {
		return fmt.Errorf("link output: %w", err)
	}
	return nil
}

// Node is one entry of the API-format graph.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// Descriptor is a complete graph keyed by node id.
type Descriptor map[string]Node

// JSON returns the canonical encoding submitted to the render service.
func (d Descriptor) JSON() ([]byte, error) {
	return json.Marshal(d)
}

// NewSeed returns a random seed in the range the render service accepts.
func NewSeed() int64 {
	return rand.Int64N(maxSeed)
}

// Build validates p and assembles the graph.
func Build(p Params) (Descriptor, error) {
	if err := validate(p); err != nil {
		return nil, err
	}

	highSource := NodeHighNoiseUNET
	lowSource := NodeLowNoiseUNET

	d := Descriptor{
		NodeCLIPLoader: {
			ClassType: "CLIPLoader",
			Inputs: map[string]any{
				"clip_name": p.Models.TextEncoder,
				"type":      "wan",
				"device":    "default",
			},
		},
		NodeVAELoader: {
			ClassType: "VAELoader",
			Inputs:    map[string]any{"vae_name": p.Models.VAE},
		},
		NodeHighNoiseUNET: {
			ClassType: "UNETLoader",
			Inputs:    map[string]any{"unet_name": p.Models.HighNoise, "weight_dtype": "default"},
		},
		NodeLowNoiseUNET: {
			ClassType: "UNETLoader",
			Inputs:    map[string]any{"unet_name": p.Models.LowNoise, "weight_dtype": "default"},
		},
	}

	if lora := strings.TrimSpace(p.HighNoiseLoRA); lora != "" {
		d[NodeHighNoiseLoRA] = loraNode(NodeHighNoiseUNET, lora)
		highSource = NodeHighNoiseLoRA
	}
	if lora := strings.TrimSpace(p.LowNoiseLoRA); lora != "" {
		d[NodeLowNoiseLoRA] = loraNode(NodeLowNoiseUNET, lora)
		lowSource = NodeLowNoiseLoRA
	}

	d[NodeHighNoiseShift] = shiftNode(highSource)
	d[NodeLowNoiseShift] = shiftNode(lowSource)
	d[NodePositivePrompt] = Node{
		ClassType: "CLIPTextEncode",
		Inputs:    map[string]any{"clip": Link{NodeCLIPLoader, 0}, "text": p.PositivePrompt},
	}
	d[NodeNegativePrompt] = Node{
		ClassType: "CLIPTextEncode",
		Inputs:    map[string]any{"clip": Link{NodeCLIPLoader, 0}, "text": p.NegativePrompt},
	}
	d[NodeLoadImage] = Node{
		ClassType: "LoadImage",
		Inputs:    map[string]any{"image": p.StartImage},
	}
	d[NodeImageToVideo] = Node{
		ClassType: "WanImageToVideo",
		Inputs: map[string]any{
			"positive":    Link{NodePositivePrompt, 0},
			"negative":    Link{NodeNegativePrompt, 0},
			"vae":         Link{NodeVAELoader, 0},
			"start_image": Link{NodeLoadImage, 0},
			"width":       p.Width,
			"height":      p.Height,
			"length":      p.Frames,
			"batch_size":  1,
		},
	}
	d[NodeFirstPass] = samplerNode(NodeHighNoiseShift, Link{NodeImageToVideo, 2}, p.Seed, true)
	d[NodeSecondPass] = samplerNode(NodeLowNoiseShift, Link{NodeFirstPass, 0}, p.Seed, false)
	d[NodeVAEDecode] = Node{
		ClassType: "VAEDecode",
		Inputs:    map[string]any{"samples": Link{NodeSecondPass, 0}, "vae": Link{NodeVAELoader, 0}},
	}
	d[NodeCreateVideo] = Node{
		ClassType: "CreateVideo",
		Inputs:    map[string]any{"images": Link{NodeVAEDecode, 0}, "fps": p.FPS},
	}
	d[NodeSaveVideo] = Node{
		ClassType: "SaveVideo",
		Inputs: map[string]any{
			"video":           Link{NodeCreateVideo, 0},
			"filename_prefix": p.OutputPrefix,
			"format":          "auto",
			"codec":           "auto",
		},
	}
	return d, nil
}

func validate(p Params) error {
	switch {
	case strings.TrimSpace(p.PositivePrompt) == "":
		return services.Wrap(services.ErrValidation, "descriptor", "build", "prompt must not be empty", nil)
	case strings.TrimSpace(p.StartImage) == "":
		return services.Wrap(services.ErrValidation, "descriptor", "build", "start image must be set", nil)
	case p.Frames <= 0:
		return services.Wrap(services.ErrValidation, "descriptor", "build", fmt.Sprintf("frame count must be positive, got %d", p.Frames), nil)
	case p.Width <= 0 || p.Height <= 0:
		return services.Wrap(services.ErrValidation, "descriptor", "build", fmt.Sprintf("dimensions must be positive, got %dx%d", p.Width, p.Height), nil)
	case p.FPS <= 0:
		return services.Wrap(services.ErrValidation, "descriptor", "build", fmt.Sprintf("fps must be positive, got %d", p.FPS), nil)
	}
	return nil
}

func loraNode(source, name string) Node {
	return Node{
		ClassType: "LoraLoaderModelOnly",
		Inputs: map[string]any{
			"model":          Link{source, 0},
			"lora_name":      name,
			"strength_model": LoRAStrength,
		},
	}
}

func shiftNode(source string) Node {
	return Node{
		ClassType: "ModelSamplingSD3",
		Inputs:    map[string]any{"model": Link{source, 0}, "shift": ModelShift},
	}
}

func samplerNode(model string, latent Link, seed int64, first bool) Node {
	inputs := map[string]any{
		"model":        Link{model, 0},
		"positive":     Link{NodeImageToVideo, 0},
		"negative":     Link{NodeImageToVideo, 1},
		"latent_image": latent,
		"noise_seed":   seed,
		"steps":        SamplerSteps,
		"cfg":          SamplerCFG,
		"sampler_name": SamplerName,
		"scheduler":    SamplerScheduler,
	}
	if first {
		inputs["add_noise"] = "enable"
		inputs["control_after_generate"] = "randomize"
		inputs["start_at_step"] = 0
		inputs["end_at_step"] = SplitStep
		inputs["return_with_leftover_noise"] = "enable"
	} else {
		inputs["add_noise"] = "disable"
		inputs["control_after_generate"] = "fixed"
		inputs["start_at_step"] = SplitStep
		inputs["end_at_step"] = FinalStep
		inputs["return_with_leftover_noise"] = "disable"
	}
	return Node{ClassType: "KSamplerAdvanced", Inputs: inputs}
}
