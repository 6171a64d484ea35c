package funnel

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zapvendas/zapfunnel/internal/dispatch"
)

type mapResolver map[string]string

func (m mapResolver) Resolve(_ context.Context, id string) (string, error) {
	url, ok := m[id]
	if !ok {
		return "", errors.New("unknown asset")
	}
	return url, nil
}

func TestPackageReturnsCopy(t *testing.T) {
	first, ok := Package(PackageCheckoutLink)
	require.True(t, ok)
	first[0].Body = "mutated"

	second, ok := Package(PackageCheckoutLink)
	require.True(t, ok)
	require.NotEqual(t, "mutated", second[0].Body)
}

func TestPackageUnknownName(t *testing.T) {
	_, ok := Package("no_such_package")
	require.False(t, ok)
}

func TestAllPackagesNonEmpty(t *testing.T) {
	for _, name := range []string{
		PackageWelcome, PackagePainAck, PackagePlansOverview,
		PackageCheckoutLink, PackagePostPurchase, PackagePendingInvoice,
	} {
		plan, ok := Package(name)
		require.True(t, ok, name)
		require.False(t, plan.IsEmpty(), name)
	}
}

func TestExpandLinks(t *testing.T) {
	resolver := mapResolver{"link.checkout": "https://pay.example.com/abc"}
	plan, ok := Package(PackageCheckoutLink)
	require.True(t, ok)

	expanded, err := ExpandLinks(context.Background(), plan, resolver)
	require.NoError(t, err)
	require.True(t, strings.Contains(expanded[0].Body, "https://pay.example.com/abc"))
	require.False(t, strings.Contains(expanded[0].Body, "{link:"))

	// Source plan keeps its token.
	require.True(t, strings.Contains(plan[0].Body, "{link:checkout}"))
}

func TestExpandLinksUnresolvableFails(t *testing.T) {
	plan := dispatch.Plan{{Kind: dispatch.UnitText, Body: "acesse {link:sumiu} agora"}}
	_, err := ExpandLinks(context.Background(), plan, mapResolver{})
	require.Error(t, err)
}

func TestExpandLinksLeavesNonTextUnitsAlone(t *testing.T) {
	plan := dispatch.Plan{
		{Kind: dispatch.UnitAudio, AssetID: "audio.boas_vindas"},
		{Kind: dispatch.UnitText, Body: "sem token nenhum"},
	}
	expanded, err := ExpandLinks(context.Background(), plan, mapResolver{})
	require.NoError(t, err)
	require.Equal(t, plan, expanded)
}
