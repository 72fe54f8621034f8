package model

// Role 참가자 역할
type Role string

const (
	RoleGM     Role = "gm"
	RolePlayer Role = "player"
)

func (r Role) String() string {
	return string(r)
}

// Valid 역할 값 검증
func (r Role) Valid() bool {
	return r == RoleGM || r == RolePlayer
}

// DiceVisibility 주사위 결과 수신 범위
type DiceVisibility string

const (
	VisibilityPublic    DiceVisibility = "public"      // 샌드박스 전체
	VisibilityToGM      DiceVisibility = "to_gm"       // GM + 본인
	VisibilityBlindToGM DiceVisibility = "blind_to_gm" // GM은 전체, 본인은 가려진 결과
	VisibilityToSelf    DiceVisibility = "to_self"     // 본인만
)

func (v DiceVisibility) String() string {
	return string(v)
}

// Valid 수신 범위 값 검증
func (v DiceVisibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityToGM, VisibilityBlindToGM, VisibilityToSelf:
		return true
	}
	return false
}

// WebSocket 이벤트 이름 (클라이언트와 공유되는 프로토콜)
const (
	EventRoster            = "roster"
	EventUserJoined        = "user-joined"
	EventUserLeft          = "user-left"
	EventImageUploaded     = "image-uploaded"
	EventActiveViewChanged = "active-view-changed"
	EventTokenCreated      = "token-created"
	EventTokenMoved        = "token-moved"
	EventTokenDeleted      = "token-deleted"
	EventChatMessage       = "chat-message"
	EventPing              = "ping"
	EventError             = "error"
)
