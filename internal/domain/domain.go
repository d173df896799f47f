package domain

import (
	"github.com/roundtablehq/roundtable-backend/internal/domain/council"
)

const (
	TenantActive    = council.TenantActive
	TenantSuspended = council.TenantSuspended

	SessionPending       = council.SessionPending
	SessionStage1Running = council.SessionStage1Running
	SessionStage2Running = council.SessionStage2Running
	SessionStage3Running = council.SessionStage3Running
	SessionCompleted     = council.SessionCompleted
	SessionFailed        = council.SessionFailed
	SessionCanceled      = council.SessionCanceled

	StageDeliberation = council.StageDeliberation
	StageReview       = council.StageReview
	StageSynthesis    = council.StageSynthesis

	OutcomeOK             = council.OutcomeOK
	OutcomeTimeout        = council.OutcomeTimeout
	OutcomeError          = council.OutcomeError
	OutcomeChainExhausted = council.OutcomeChainExhausted

	RolePrimaryDeliberator = council.RolePrimaryDeliberator
	RoleReviewer           = council.RoleReviewer
	RoleChairman           = council.RoleChairman
)

type Role = council.Role
type Tenant = council.Tenant
type ModelRoleEntry = council.ModelRoleEntry
type DeliberationSession = council.DeliberationSession
type ModelResponse = council.ModelResponse
type RankingVerdict = council.RankingVerdict
type UsageCounter = council.UsageCounter

var (
	ParseRole       = council.ParseRole
	AllRoles        = council.AllRoles
	SessionTerminal = council.SessionTerminal
	StageForStatus  = council.StageForStatus
	PeriodStartFor  = council.PeriodStartFor
)
