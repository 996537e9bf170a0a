package interfaces

import "context"

// EligibleMember 资格核验返回的成员视图
type EligibleMember struct {
	MemberID    uint64
	Email       string
	DisplayName string
}

// EligibilityOracle 队伍资格核验：全队成员该届次报名均为 pending 才返回成员列表，
// 任一成员不满足则整体返回空（全有或全无）
type EligibilityOracle interface {
	EligibleMembers(ctx context.Context, teamCode string, editionID uint64) ([]EligibleMember, error)
}
