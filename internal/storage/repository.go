package storage

import (
	"context"

	"mediafetch/internal/models"
)

// Repository exposes the datastore operations required by the dispatch loop,
// the session processor, and the admin surface. Two drivers implement it: the
// JSON document store and the Postgres store.
type Repository interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	EnsureUser(id, displayName string) (models.User, error)
	GetUser(id string) (models.User, bool)
	ListUsers() []models.User
	SetUserTier(id string, tier models.Tier) (models.User, error)
	AuthorizeDownload(id string) (models.User, error)
	RecordDownload(id string, record models.DownloadRecord) (models.User, error)

	EnsureReferralCode(id string) (models.User, error)
	ProcessReferral(newUserID, code string) (ReferralOutcome, error)
	ClaimReferralReward(id string) (ClaimOutcome, error)

	GenerateCodes(tier models.Tier, count int) ([]models.RedeemCode, error)
	ListCodes(includeUsed bool) []models.RedeemCode
	Redeem(code, userID string) (models.User, models.RedeemCode, error)

	SubmitFeedback(userID, message string) (models.Feedback, error)
	ListFeedback(includeResponded bool) []models.Feedback
	RespondFeedback(id, adminID, response string) (models.Feedback, error)

	BanUser(id, adminID, reason string) (models.BanRecord, error)
	UnbanUser(id string) error
	IsBanned(id string) (models.BanRecord, bool)
	ListBans() []models.BanRecord

	Maintenance() models.MaintenanceFlag
	SetMaintenance(flag models.MaintenanceFlag) error
}

var _ Repository = (*Storage)(nil)
