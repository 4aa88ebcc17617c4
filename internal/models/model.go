package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedModel is returned for a model id outside the supported set
var ErrUnsupportedModel = errors.New("unsupported model")

// Model is a client-facing model identifier a key is bound to
type Model string

const (
	ModelGPT4          Model = "gpt-4"
	ModelGPT4Turbo     Model = "gpt-4-turbo"
	ModelGPT5          Model = "gpt-5"
	ModelGPT5Mini      Model = "gpt-5-mini"
	ModelGPT4oMini     Model = "gpt-4o-mini"
	ModelGPT35Turbo    Model = "gpt-3.5-turbo"
	ModelClaude3Opus   Model = "claude-3-opus"
	ModelClaude3Sonnet Model = "claude-3-sonnet"
	ModelClaude3Haiku  Model = "claude-3-haiku"
	ModelLlama31       Model = "llama-3.1-8b"
)

// vendorSlugs maps each model to the id the key vendor expects
var vendorSlugs = map[Model]string{
	ModelGPT4:          "openai/gpt-4",
	ModelGPT4Turbo:     "openai/gpt-4-turbo",
	ModelGPT5:          "openai/gpt-5",
	ModelGPT5Mini:      "openai/gpt-5-mini",
	ModelGPT4oMini:     "openai/gpt-4o-mini",
	ModelGPT35Turbo:    "openai/gpt-3.5-turbo",
	ModelClaude3Opus:   "anthropic/claude-3-opus",
	ModelClaude3Sonnet: "anthropic/claude-3-sonnet",
	ModelClaude3Haiku:  "anthropic/claude-3-haiku",
	ModelLlama31:       "meta-llama/llama-3.1-8b-instruct",
}

// SupportedModels lists the models in a stable order
var SupportedModels = []Model{
	ModelGPT4,
	ModelGPT4Turbo,
	ModelGPT5,
	ModelGPT5Mini,
	ModelGPT4oMini,
	ModelGPT35Turbo,
	ModelClaude3Opus,
	ModelClaude3Sonnet,
	ModelClaude3Haiku,
	ModelLlama31,
}

// ParseModel validates s against the supported set
func ParseModel(s string) (Model, error) {
	m := Model(strings.TrimSpace(s))
	if _, ok := vendorSlugs[m]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedModel, s)
	}
	return m, nil
}

// VendorSlug returns the vendor-side model id
func (m Model) VendorSlug() (string, error) {
	slug, ok := vendorSlugs[m]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedModel, string(m))
	}
	return slug, nil
}

// IsSupported reports whether m is a known model
func (m Model) IsSupported() bool {
	_, ok := vendorSlugs[m]
	return ok
}

func (m Model) String() string {
	return string(m)
}
