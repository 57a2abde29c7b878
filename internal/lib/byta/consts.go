package byta

import "fmt"

const (
	// Staking contract view methods
	MethodStakes                  = "stakes"
	MethodLeftVolumeUSD           = "leftVolumeUSD"
	MethodRightVolumeUSD          = "rightVolumeUSD"
	MethodTier                    = "bytaTier"
	MethodRewardPerPeriodBP       = "rewardPerPeriodBP"
	MethodRewardPeriod            = "rewardPeriod"
	MethodPendingStakingRewardUSD = "pendingStakingRewardUSD"
	MethodPendingDailyUSD         = "pendingBytaDailyUSD"
	MethodUserLocks               = "getUserLocks"
	MethodDirectReferrals         = "getDirectReferrals"
	MethodUsers                   = "users"
	MethodReferrer                = "referrer"

	// Token contract view methods
	MethodBalanceOf = "balanceOf"
	MethodToUSD     = "toUSD"
	MethodToToken   = "toToken"

	// Staking contract events
	EventReferrerSet  = "ReferrerSet"
	EventRewardPaid   = "RewardPaid"
	EventReferralPaid = "ReferralPaid"
)

// DefaultClaimLimit is how many claims ClaimHistory returns when no limit is given.
const DefaultClaimLimit = 20

var tierNames = []string{"No Tier", "BYTA-1", "BYTA-2", "BYTA-3", "BYTA-4", "BYTA-5", "BYTA-6", "BYTA-7"}

func TierName(tier uint8) string {
	if int(tier) < len(tierNames) {
		return tierNames[tier]
	}
	return fmt.Sprintf("Tier %d", tier)
}
