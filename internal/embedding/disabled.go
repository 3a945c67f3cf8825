package embedding

import "context"

// Disabled stands in for a provider that could not be configured. Every
// call fails with the configuration error, so searches degrade instead of
// the process refusing to start.
type Disabled struct {
	Err error
}

var _ Provider = Disabled{}

func (d Disabled) Name() string { return "disabled" }

func (d Disabled) Embed(context.Context, string) ([]float32, error) {
	return nil, providerError(d.Name(), d.Err)
}

func (d Disabled) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, providerError(d.Name(), d.Err)
}

func (d Disabled) CheckHealth(context.Context) error {
	return providerError(d.Name(), d.Err)
}
