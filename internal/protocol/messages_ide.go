package protocol

import "encoding/json"

// MessageIde is a tagged union of the messages exchanged on the IDE
// channel. Only one field should be set per message.
type MessageIde struct {
	File        *IdeFileMsg   `json:"File,omitempty"`
	RequestFile bool          `json:"RequestFile,omitempty"`
	Update      *IdeUpdateMsg `json:"Update,omitempty"`
	Ack         bool          `json:"Ack,omitempty"`
	Decl        *IdeDeclMsg   `json:"Decl,omitempty"`
}

// IdeFileMsg carries a full document snapshot, in either direction.
type IdeFileMsg struct {
	File string `json:"file"`
}

// IdeUpdateMsg carries a batch of edits, in either direction.
type IdeUpdateMsg struct {
	Changes []TextModification `json:"changes"`
}

// IdeDeclMsg is the optional format handshake a client may emit.
type IdeDeclMsg struct {
	Format Format `json:"format"`
}

// MarshalJSON ensures only the set variant is present in the encoded object.
func (m MessageIde) MarshalJSON() ([]byte, error) {
	result := make(map[string]interface{})
	switch {
	case m.File != nil:
		result["File"] = m.File
	case m.RequestFile:
		result["RequestFile"] = struct{}{}
	case m.Update != nil:
		result["Update"] = m.Update
	case m.Ack:
		result["Ack"] = struct{}{}
	case m.Decl != nil:
		result["Decl"] = m.Decl
	}
	return json.Marshal(result)
}

// UnmarshalJSON recovers whichever variant is present in the encoded object.
func (m *MessageIde) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if v, ok := raw["File"]; ok {
		var f IdeFileMsg
		if err := json.Unmarshal(v, &f); err != nil {
			return err
		}
		m.File = &f
	}
	if _, ok := raw["RequestFile"]; ok {
		m.RequestFile = true
	}
	if v, ok := raw["Update"]; ok {
		var u IdeUpdateMsg
		if err := json.Unmarshal(v, &u); err != nil {
			return err
		}
		m.Update = &u
	}
	if _, ok := raw["Ack"]; ok {
		m.Ack = true
	}
	if v, ok := raw["Decl"]; ok {
		var d IdeDeclMsg
		if err := json.Unmarshal(v, &d); err != nil {
			return err
		}
		m.Decl = &d
	}
	return nil
}

// Constructors for the IDE-bound variants a client emits.

func NewIdeFileMsg(file string) MessageIde {
	return MessageIde{File: &IdeFileMsg{File: file}}
}

func NewIdeRequestFileMsg() MessageIde {
	return MessageIde{RequestFile: true}
}

func NewIdeUpdateMsg(changes []TextModification) MessageIde {
	return MessageIde{Update: &IdeUpdateMsg{Changes: changes}}
}

func NewIdeAckMsg() MessageIde {
	return MessageIde{Ack: true}
}

func NewIdeDeclMsg(format Format) MessageIde {
	return MessageIde{Decl: &IdeDeclMsg{Format: format}}
}
