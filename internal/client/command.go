package client

import (
	"fmt"
	"strconv"
	"strings"
)

// Help is the usage text shown for unrecognised or malformed commands and for
// plain text typed outside a room.
const Help = `Usage:
	/login <clientID> <password> <serverIP> <serverPort>
	/logout
	/joinsession <sessionID>
	/leavesession
	/createsession <sessionID>
	/switchtab <tab (optional)>
	/list
	/quit`

// Execute runs one input line against the session: lines starting with '/'
// are commands tokenised on whitespace, anything else is a message for the
// active tab's room.  Command recognition requires the exact token count; a
// mismatch prints the help and sends nothing.  The returned lines are for the
// user; quit is true for /quit.
func Execute(s *Session, line string) (output []string, quit bool) {
	if !strings.HasPrefix(line, "/") {
		return sendText(s, line), false
	}

	tokens := strings.Fields(line)
	cmd := strings.TrimPrefix(tokens[0], "/")

	switch {
	case cmd == "login" && len(tokens) == 5:
		if err := s.Login(tokens[1], tokens[2], tokens[3], tokens[4]); err != nil {
			return []string{"Log in error."}, false
		}
		return []string{"Connected."}, false

	case cmd == "logout" && len(tokens) == 1:
		if err := s.Logout(); err != nil {
			return []string{"Error, cannot logout."}, false
		}
		return nil, false

	case cmd == "joinsession" && len(tokens) == 2:
		if err := s.JoinRoom(tokens[1]); err != nil {
			return []string{fmt.Sprintf("Cannot join session: %s", err)}, false
		}
		return []string{fmt.Sprintf("Joined session: %s", s.CurrentRoom())}, false

	case cmd == "leavesession" && len(tokens) == 1:
		room := s.CurrentRoom()
		if err := s.LeaveRoom(); err != nil {
			return []string{fmt.Sprintf("Cannot leave session: %s", err)}, false
		}
		return []string{fmt.Sprintf("Left session: %s", room)}, false

	case cmd == "createsession" && len(tokens) == 2:
		if err := s.CreateRoom(tokens[1]); err != nil {
			return []string{fmt.Sprintf("Session creation error: %s", err)}, false
		}
		return []string{fmt.Sprintf("Session created: %s", s.CurrentRoom())}, false

	case cmd == "list" && len(tokens) == 1:
		listing, err := s.List()
		if err != nil {
			return []string{"Error listing sessions"}, false
		}
		return []string{listing}, false

	case cmd == "switchtab" && (len(tokens) == 1 || len(tokens) == 2):
		return switchTab(s, tokens), false

	case cmd == "quit" && len(tokens) == 1:
		return nil, true

	default:
		return []string{"Unrecognized command.", Help}, false
	}
}

func switchTab(s *Session, tokens []string) []string {
	if len(tokens) == 1 {
		return []string{fmt.Sprintf("Switched to tab %d", s.NextTab()+1)}
	}
	n, err := strconv.Atoi(tokens[1])
	if err != nil || s.SwitchTab(n-1) != nil {
		return []string{"Invalid session number"}
	}
	return []string{fmt.Sprintf("Switched to tab %d", n)}
}

func sendText(s *Session, line string) []string {
	text := strings.TrimRight(line, "\n")
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if s.CurrentRoom() == "" {
		return []string{Help}
	}
	if err := s.SendText(text); err != nil {
		return []string{"Error sending message."}
	}
	return nil
}
