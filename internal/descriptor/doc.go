// Package descriptor builds the ComfyUI API-format node graph for one Wan2.2
// image-to-video segment.
//
// Build is pure: the same Params (including the seed) always produce the same
// graph, and the JSON encoding is key-sorted. The graph runs two
// KSamplerAdvanced passes, the high-noise model for steps [0,10) and the
// low-noise model from step 10 to the end, with optional LoRA loaders inserted
// in front of each ModelSamplingSD3 node.
package descriptor
