// SPDX-FileCopyrightText: 2024 Waitroom Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"reflect"
	"strings"
)

// Valid inbound message types: messageType to type
var inboundMessageTypes = make(map[messageType]reflect.Type)

type (
	inbound interface {
		Process(h *Hub, client Client)
	}

	messageType string
)

func uncapitalize(str string) string {
	return strings.ToLower(str[0:1]) + str[1:]
}

func registerInbound(inbounds ...inbound) {
	for _, in := range inbounds {
		typ := reflect.Indirect(reflect.ValueOf(in)).Type()
		inboundMessageTypes[messageType(uncapitalize(typ.Name()))] = typ
	}
}

// registerInboundAlias maps an extra wire name onto an already-registered
// inbound, for clients that spell the same message differently.
func registerInboundAlias(alias messageType, in inbound) {
	inboundMessageTypes[alias] = reflect.Indirect(reflect.ValueOf(in)).Type()
}

// decodeInbound parses a text frame. Frames are flat JSON objects
// discriminated by a top-level "type" field. An unknown type decodes to
// InvalidInbound; malformed JSON or a missing type field is an error. Either
// way the caller drops the frame without replying.
func decodeInbound(data []byte) (inbound, error) {
	typeField := json.Get(data, "type")
	if err := typeField.LastError(); err != nil {
		return nil, err
	}

	t := messageType(typeField.ToString())
	typ, ok := inboundMessageTypes[t]
	if !ok {
		return InvalidInbound{messageType: t}, nil
	}

	value := reflect.New(typ)
	if err := json.Unmarshal(data, value.Interface()); err != nil {
		return nil, err
	}
	return value.Elem().Interface().(inbound), nil
}
