package services

import "errors"

var (
	ErrCapacityExceeded    = errors.New("报名人数已满")
	ErrInsufficientPlayers = errors.New("玩家人数不足")
	ErrBlocked             = errors.New("用户已被频道屏蔽")
	ErrStalePhase          = errors.New("阶段已变化，请刷新状态")
	ErrIneligibleAction    = errors.New("当前阶段或角色无法执行该动作")
	ErrInvalidTarget       = errors.New("无效的目标玩家")
	ErrNotFound            = errors.New("会话或玩家不存在")
	ErrTransport           = errors.New("消息投递失败")
	ErrNotAuthorized       = errors.New("无权开始游戏")
	ErrRolePoolMismatch    = errors.New("角色池与玩家数量不符")
	ErrBadRequest          = errors.New("请求格式错误")
)

// ErrorCode 把错误映射为稳定的错误码，供客户端区分原因
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCapacityExceeded):
		return "CapacityExceeded"
	case errors.Is(err, ErrInsufficientPlayers):
		return "InsufficientPlayers"
	case errors.Is(err, ErrBlocked):
		return "Blocked"
	case errors.Is(err, ErrStalePhase):
		return "StalePhase"
	case errors.Is(err, ErrIneligibleAction):
		return "IneligibleAction"
	case errors.Is(err, ErrInvalidTarget):
		return "InvalidTarget"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrTransport):
		return "TransportError"
	case errors.Is(err, ErrNotAuthorized):
		return "NotAuthorized"
	case errors.Is(err, ErrRolePoolMismatch):
		return "RolePoolMismatch"
	case errors.Is(err, ErrBadRequest):
		return "BadRequest"
	default:
		return "Internal"
	}
}
