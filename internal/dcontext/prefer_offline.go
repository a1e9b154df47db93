package dcontext

import "context"

type preferOfflineKey struct{}

func (preferOfflineKey) String() string { return "preferOffline" }

// WithPreferOffline marks ctx so the registry client serves a cached
// packument without a conditional GET when one is available, for the
// CLI's --prefer-offline flag.
func WithPreferOffline(ctx context.Context) context.Context {
	return context.WithValue(ctx, preferOfflineKey{}, true)
}

// PreferOffline reports whether ctx was marked with WithPreferOffline.
func PreferOffline(ctx context.Context) bool {
	v, _ := ctx.Value(preferOfflineKey{}).(bool)
	return v
}
