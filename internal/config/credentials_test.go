package config

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

type fakeProbe struct {
	healthy      bool
	positionErr  error
	fetchedCalls int
}

func (f *fakeProbe) HealthCheck(ctx context.Context) bool { return f.healthy }

func (f *fakeProbe) FetchPosition(ctx context.Context, symbol string) (decimal.Decimal, error) {
	f.fetchedCalls++
	if f.positionErr != nil {
		return decimal.Zero, f.positionErr
	}
	return decimal.NewFromInt(1), nil
}

func validConfig() *Config {
	return &Config{
		VenueA: VenueConfig{Credentials: VenueCredentials{APIKey: "a-key", APISecret: "a-secret"}},
		VenueB: VenueConfig{Credentials: VenueCredentials{APIKey: "b-key", APISecret: "b-secret"}},
	}
}

func TestValidateCredentialsAllPass(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	probeA := &fakeProbe{healthy: true}
	probeB := &fakeProbe{healthy: true}

	result := ValidateCredentials(context.Background(), cfg, probeA, probeB, "BTC-PERP")
	if !result.OK {
		t.Fatalf("expected OK, got %+v", result)
	}
	if !result.VenueA.Valid || !result.VenueB.Valid {
		t.Errorf("expected both venues valid: %+v", result)
	}
	if probeA.fetchedCalls != 1 || probeB.fetchedCalls != 1 {
		t.Errorf("expected exactly one fetch_position probe per venue")
	}
}

func TestValidateCredentialsMissingFields(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.VenueA.Credentials.APISecret = ""

	result := ValidateCredentials(context.Background(), cfg, &fakeProbe{healthy: true}, &fakeProbe{healthy: true}, "BTC-PERP")
	if result.OK {
		t.Fatal("expected failure when a required field is missing")
	}
	if result.VenueA.Checks.RequiredFields {
		t.Error("expected RequiredFields check to fail")
	}
}

func TestValidateCredentialsHealthCheckFails(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	result := ValidateCredentials(context.Background(), cfg, &fakeProbe{healthy: false}, &fakeProbe{healthy: true}, "BTC-PERP")
	if result.VenueA.Valid {
		t.Error("expected venue_a to fail on health check")
	}
	if !result.VenueA.Checks.RequiredFields || result.VenueA.Checks.Connect {
		t.Errorf("unexpected checks state: %+v", result.VenueA.Checks)
	}
}

func TestValidateCredentialsFetchPositionFails(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	probeA := &fakeProbe{healthy: true, positionErr: fmt.Errorf("signature rejected")}
	result := ValidateCredentials(context.Background(), cfg, probeA, &fakeProbe{healthy: true}, "BTC-PERP")
	if result.VenueA.Valid {
		t.Error("expected venue_a to fail when fetch_position errors")
	}
	if !result.VenueA.Checks.Connect || result.VenueA.Checks.FetchPosition {
		t.Errorf("unexpected checks state: %+v", result.VenueA.Checks)
	}
}

func TestValidateCredentialsNilProbeAllowsSimulated(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	result := ValidateCredentials(context.Background(), cfg, nil, nil, "BTC-PERP")
	if !result.OK {
		t.Errorf("expected required-fields-only validation to pass without a probe, got %+v", result)
	}
}
