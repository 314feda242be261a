package trigger

import provider "github.com/picklr-io/fnstack/providers/aws"

// bindingName derives the provider-side name of a binding from the
// function and trigger names.
func bindingName(prefix, function, trigger string, max int) string {
	return provider.Name(max, prefix, function, trigger)
}
