package validation

import (
	"testing"

	"github.com/mmeshcher/smmshop-system/internal/model"
)

func TestIsValidLink(t *testing.T) {
	tests := []struct {
		name  string
		link  string
		valid bool
	}{
		{
			name:  "post link",
			link:  "https://instagram.com/p/Cxyz123/",
			valid: true,
		},
		{
			name:  "www prefix",
			link:  "https://www.instagram.com/reel/Cabc456/",
			valid: true,
		},
		{
			name:  "http scheme",
			link:  "http://instagram.com/p/Cxyz123/",
			valid: true,
		},
		{
			name:  "wrong host",
			link:  "https://example.com/p/Cxyz123/",
			valid: false,
		},
		{
			name:  "no scheme",
			link:  "instagram.com/p/Cxyz123/",
			valid: false,
		},
		{
			name:  "empty string",
			link:  "",
			valid: false,
		},
		{
			name:  "whitespace inside",
			link:  "https://instagram.com/p/C xyz/",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidLink(tt.link)
			if got != tt.valid {
				t.Fatalf("IsValidLink(%q) = %v, want %v", tt.link, got, tt.valid)
			}
		})
	}
}

func TestQuantityInBounds(t *testing.T) {
	tests := []struct {
		name     string
		kind     model.ServiceKind
		quantity int
		ok       bool
	}{
		{name: "likes minimum", kind: model.ServiceKindLikes, quantity: 500, ok: true},
		{name: "likes maximum", kind: model.ServiceKindLikes, quantity: 50000, ok: true},
		{name: "likes below minimum", kind: model.ServiceKindLikes, quantity: 499, ok: false},
		{name: "likes above maximum", kind: model.ServiceKindLikes, quantity: 50001, ok: false},
		{name: "views minimum", kind: model.ServiceKindViews, quantity: 1000, ok: true},
		{name: "views maximum", kind: model.ServiceKindViews, quantity: 1000000, ok: true},
		{name: "views below minimum", kind: model.ServiceKindViews, quantity: 999, ok: false},
		{name: "unknown kind", kind: model.ServiceKind("follows"), quantity: 1000, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := QuantityInBounds(tt.kind, tt.quantity)
			if got != tt.ok {
				t.Fatalf("QuantityInBounds(%q, %d) = %v, want %v", tt.kind, tt.quantity, got, tt.ok)
			}
		})
	}
}
