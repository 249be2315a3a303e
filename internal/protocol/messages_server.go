package protocol

import (
	"encoding/json"

	ot "github.com/shiv248/operational-transformation-go"
)

// MessageServer is a tagged union of the messages exchanged on the
// authority channel. Only one field should be set per message.
type MessageServer struct {
	File        *ServerFileMsg `json:"File,omitempty"`
	RequestFile bool           `json:"RequestFile,omitempty"`
	ServerUpdate *ModifRequest `json:"ServerUpdate,omitempty"`
	Ack         bool           `json:"Ack,omitempty"`
}

// ServerFileMsg is the initial sync from the authority, or the initial
// upload from a client answering RequestFile.
type ServerFileMsg struct {
	File    string `json:"file"`
	Version int    `json:"version"`
}

// MarshalJSON ensures only the set variant is present in the encoded object.
func (m MessageServer) MarshalJSON() ([]byte, error) {
	result := make(map[string]interface{})
	switch {
	case m.File != nil:
		result["File"] = m.File
	case m.RequestFile:
		result["RequestFile"] = struct{}{}
	case m.ServerUpdate != nil:
		result["ServerUpdate"] = m.ServerUpdate
	case m.Ack:
		result["Ack"] = struct{}{}
	}
	return json.Marshal(result)
}

// UnmarshalJSON recovers whichever variant is present in the encoded object.
func (m *MessageServer) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if v, ok := raw["File"]; ok {
		var f ServerFileMsg
		if err := json.Unmarshal(v, &f); err != nil {
			return err
		}
		m.File = &f
	}
	if _, ok := raw["RequestFile"]; ok {
		m.RequestFile = true
	}
	if v, ok := raw["ServerUpdate"]; ok {
		var r ModifRequest
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		m.ServerUpdate = &r
	}
	if _, ok := raw["Ack"]; ok {
		m.Ack = true
	}
	return nil
}

// Constructors for the authority-bound variants a client or authority emits.

func NewServerFileMsg(file string, version int) MessageServer {
	return MessageServer{File: &ServerFileMsg{File: file, Version: version}}
}

func NewServerRequestFileMsg() MessageServer {
	return MessageServer{RequestFile: true}
}

func NewServerUpdateMsg(delta *ot.OperationSeq, revNum int) MessageServer {
	return MessageServer{ServerUpdate: &ModifRequest{Delta: delta, RevNum: revNum}}
}

func NewServerAckMsg() MessageServer {
	return MessageServer{Ack: true}
}
