package domain

import (
	"testing"
	"time"
)

func TestRewardRedemption_Lifecycle(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	verifiedAt := now.Add(-time.Hour)

	tests := []struct {
		name        string
		redemption  RewardRedemption
		wantStage   RedemptionStatus
		wantOpen    bool
		wantPastDue bool
	}{
		{
			name:       "pending",
			redemption: RewardRedemption{Status: RedemptionPending, ExpiresAt: now.Add(time.Hour)},
			wantStage:  RedemptionPending,
			wantOpen:   true,
		},
		{
			name:       "checked by staff",
			redemption: RewardRedemption{Status: RedemptionPending, VerifiedAt: &verifiedAt, ExpiresAt: now.Add(time.Hour)},
			wantStage:  RedemptionVerified,
			wantOpen:   true,
		},
		{
			name:        "pending past its lifetime",
			redemption:  RewardRedemption{Status: RedemptionPending, ExpiresAt: now},
			wantStage:   RedemptionPending,
			wantOpen:    true,
			wantPastDue: true,
		},
		{
			name:       "fulfilled",
			redemption: RewardRedemption{Status: RedemptionFulfilled, ExpiresAt: now.Add(-time.Hour)},
			wantStage:  RedemptionFulfilled,
		},
		{
			name:       "derived stage is not an open status",
			redemption: RewardRedemption{Status: RedemptionVerified, ExpiresAt: now.Add(-time.Hour)},
			wantStage:  RedemptionVerified,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.redemption.Stage(); got != tt.wantStage {
				t.Fatalf("expected stage %s, got %s", tt.wantStage, got)
			}
			if got := tt.redemption.Open(); got != tt.wantOpen {
				t.Fatalf("expected open=%v, got %v", tt.wantOpen, got)
			}
			if got := tt.redemption.PastDue(now); got != tt.wantPastDue {
				t.Fatalf("expected past due=%v, got %v", tt.wantPastDue, got)
			}
		})
	}
}
