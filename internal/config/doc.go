// Package config loads, normalises, and validates the TOML configuration shared
// by the reelchain daemon and CLI.
//
// Values come from the config file, then from a .env file beside it, then
// from REELCHAIN_* environment variables for secrets and endpoints. Defaults
// mirror the render workflow's expectations (640x640, 16 fps, 81 frames per
// segment) so a bare file is enough to talk to a local ComfyUI instance.
package config
