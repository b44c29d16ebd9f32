package audit

// Event names one session lifecycle occurrence.
type Event string

const (
	EventLogin          Event = "session.login"
	EventLoginFailed    Event = "session.login_failed"
	EventOAuthCallback  Event = "session.oauth_callback"
	EventLogout         Event = "session.logout"
	EventForcedSignOut  Event = "session.forced_signout"
	EventIncidentFiled  Event = "incident.submitted"
	EventEvidenceStaged Event = "evidence.staged"
)

// Level is the log level the event is written with.
func (e Event) Level() string {
	switch e {
	case EventLoginFailed, EventForcedSignOut:
		return "warn"
	}
	return "info"
}
