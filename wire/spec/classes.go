// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package spec

// Class ids exercised by this core, spec.md §6 ("classes connection(10),
// channel(20), exchange(40), queue(50), basic(60), confirm(85), tx(90)").
const (
	ClassConnection uint16 = 10
	ClassChannel    uint16 = 20
	ClassExchange   uint16 = 40
	ClassQueue      uint16 = 50
	ClassBasic      uint16 = 60
	ClassConfirm    uint16 = 85
	ClassTx         uint16 = 90
)

func init() {
	registerConnectionMethods()
	registerChannelMethods()
	registerExchangeMethods()
	registerQueueMethods()
	registerBasicMethods()
	registerConfirmMethods()
	registerTxMethods()
}

func registerConnectionMethods() {
	const c = ClassConnection
	const cn = "Connection"
	register(Method{c, 10, cn, "Start", []Field{
		{"version-major", Octet}, {"version-minor", Octet},
		{"server-properties", FieldTable}, {"mechanisms", LongStr}, {"locales", LongStr},
	}})
	register(Method{c, 11, cn, "Start-Ok", []Field{
		{"client-properties", FieldTable}, {"mechanism", ShortStr}, {"response", LongStr}, {"locale", ShortStr},
	}})
	register(Method{c, 20, cn, "Secure", []Field{{"challenge", LongStr}}})
	register(Method{c, 21, cn, "Secure-Ok", []Field{{"response", LongStr}}})
	register(Method{c, 30, cn, "Tune", []Field{
		{"channel-max", Short}, {"frame-max", Long}, {"heartbeat", Short},
	}})
	register(Method{c, 31, cn, "Tune-Ok", []Field{
		{"channel-max", Short}, {"frame-max", Long}, {"heartbeat", Short},
	}})
	register(Method{c, 40, cn, "Open", []Field{
		{"virtual-host", ShortStr}, {"reserved-1", ShortStr}, {"reserved-2", Bit},
	}})
	register(Method{c, 41, cn, "Open-Ok", []Field{{"reserved-1", ShortStr}}})
	register(Method{c, 50, cn, "Close", []Field{
		{"reply-code", Short}, {"reply-text", ShortStr}, {"class-id", Short}, {"method-id", Short},
	}})
	register(Method{c, 51, cn, "Close-Ok", nil})
	register(Method{c, 60, cn, "Blocked", []Field{{"reason", ShortStr}}})
	register(Method{c, 61, cn, "Unblocked", nil})
	register(Method{c, 70, cn, "Update-Secret", []Field{{"new-secret", LongStr}, {"reason", ShortStr}}})
	register(Method{c, 71, cn, "Update-Secret-Ok", nil})
}

func registerChannelMethods() {
	const c = ClassChannel
	const cn = "Channel"
	register(Method{c, 10, cn, "Open", []Field{{"reserved-1", ShortStr}}})
	register(Method{c, 11, cn, "Open-Ok", []Field{{"reserved-1", LongStr}}})
	register(Method{c, 20, cn, "Flow", []Field{{"active", Bit}}})
	register(Method{c, 21, cn, "Flow-Ok", []Field{{"active", Bit}}})
	register(Method{c, 40, cn, "Close", []Field{
		{"reply-code", Short}, {"reply-text", ShortStr}, {"class-id", Short}, {"method-id", Short},
	}})
	register(Method{c, 41, cn, "Close-Ok", nil})
}

func registerExchangeMethods() {
	const c = ClassExchange
	const cn = "Exchange"
	register(Method{c, 10, cn, "Declare", []Field{
		{"reserved-1", Short}, {"exchange", ShortStr}, {"type", ShortStr},
		{"passive", Bit}, {"durable", Bit}, {"auto-delete", Bit}, {"internal", Bit}, {"nowait", Bit},
		{"arguments", FieldTable},
	}})
	register(Method{c, 11, cn, "Declare-Ok", nil})
	register(Method{c, 20, cn, "Delete", []Field{
		{"reserved-1", Short}, {"exchange", ShortStr}, {"if-unused", Bit}, {"nowait", Bit},
	}})
	register(Method{c, 21, cn, "Delete-Ok", nil})
	register(Method{c, 30, cn, "Bind", []Field{
		{"reserved-1", Short}, {"destination", ShortStr}, {"source", ShortStr}, {"routing-key", ShortStr},
		{"nowait", Bit}, {"arguments", FieldTable},
	}})
	register(Method{c, 31, cn, "Bind-Ok", nil})
	register(Method{c, 40, cn, "Unbind", []Field{
		{"reserved-1", Short}, {"destination", ShortStr}, {"source", ShortStr}, {"routing-key", ShortStr},
		{"nowait", Bit}, {"arguments", FieldTable},
	}})
	register(Method{c, 51, cn, "Unbind-Ok", nil})
}

func registerQueueMethods() {
	const c = ClassQueue
	const cn = "Queue"
	register(Method{c, 10, cn, "Declare", []Field{
		{"reserved-1", Short}, {"queue", ShortStr},
		{"passive", Bit}, {"durable", Bit}, {"exclusive", Bit}, {"auto-delete", Bit}, {"nowait", Bit},
		{"arguments", FieldTable},
	}})
	register(Method{c, 11, cn, "Declare-Ok", []Field{
		{"queue", ShortStr}, {"message-count", Long}, {"consumer-count", Long},
	}})
	register(Method{c, 20, cn, "Bind", []Field{
		{"reserved-1", Short}, {"queue", ShortStr}, {"exchange", ShortStr}, {"routing-key", ShortStr},
		{"nowait", Bit}, {"arguments", FieldTable},
	}})
	register(Method{c, 21, cn, "Bind-Ok", nil})
	register(Method{c, 30, cn, "Purge", []Field{{"reserved-1", Short}, {"queue", ShortStr}, {"nowait", Bit}}})
	register(Method{c, 31, cn, "Purge-Ok", []Field{{"message-count", Long}}})
	register(Method{c, 40, cn, "Delete", []Field{
		{"reserved-1", Short}, {"queue", ShortStr}, {"if-unused", Bit}, {"if-empty", Bit}, {"nowait", Bit},
	}})
	register(Method{c, 41, cn, "Delete-Ok", []Field{{"message-count", Long}}})
	register(Method{c, 50, cn, "Unbind", []Field{
		{"reserved-1", Short}, {"queue", ShortStr}, {"exchange", ShortStr}, {"routing-key", ShortStr},
		{"arguments", FieldTable},
	}})
	register(Method{c, 51, cn, "Unbind-Ok", nil})
}

func registerBasicMethods() {
	const c = ClassBasic
	const cn = "Basic"
	register(Method{c, 10, cn, "Qos", []Field{
		{"prefetch-size", Long}, {"prefetch-count", Short}, {"global", Bit},
	}})
	register(Method{c, 11, cn, "Qos-Ok", nil})
	register(Method{c, 20, cn, "Consume", []Field{
		{"reserved-1", Short}, {"queue", ShortStr}, {"consumer-tag", ShortStr},
		{"no-local", Bit}, {"no-ack", Bit}, {"exclusive", Bit}, {"nowait", Bit},
		{"arguments", FieldTable},
	}})
	register(Method{c, 21, cn, "Consume-Ok", []Field{{"consumer-tag", ShortStr}}})
	register(Method{c, 30, cn, "Cancel", []Field{{"consumer-tag", ShortStr}, {"nowait", Bit}}})
	register(Method{c, 31, cn, "Cancel-Ok", []Field{{"consumer-tag", ShortStr}}})
	register(Method{c, 40, cn, "Publish", []Field{
		{"reserved-1", Short}, {"exchange", ShortStr}, {"routing-key", ShortStr},
		{"mandatory", Bit}, {"immediate", Bit},
	}})
	register(Method{c, 50, cn, "Return", []Field{
		{"reply-code", Short}, {"reply-text", ShortStr}, {"exchange", ShortStr}, {"routing-key", ShortStr},
	}})
	register(Method{c, 60, cn, "Deliver", []Field{
		{"consumer-tag", ShortStr}, {"delivery-tag", LongLong}, {"redelivered", Bit},
		{"exchange", ShortStr}, {"routing-key", ShortStr},
	}})
	register(Method{c, 70, cn, "Get", []Field{{"reserved-1", Short}, {"queue", ShortStr}, {"no-ack", Bit}}})
	register(Method{c, 71, cn, "Get-Ok", []Field{
		{"delivery-tag", LongLong}, {"redelivered", Bit}, {"exchange", ShortStr}, {"routing-key", ShortStr},
		{"message-count", Long},
	}})
	register(Method{c, 72, cn, "Get-Empty", []Field{{"reserved-1", ShortStr}}})
	register(Method{c, 80, cn, "Ack", []Field{{"delivery-tag", LongLong}, {"multiple", Bit}}})
	register(Method{c, 90, cn, "Reject", []Field{{"delivery-tag", LongLong}, {"requeue", Bit}}})
	register(Method{c, 100, cn, "Recover-Async", []Field{{"requeue", Bit}}})
	register(Method{c, 110, cn, "Recover", []Field{{"requeue", Bit}}})
	register(Method{c, 111, cn, "Recover-Ok", nil})
	register(Method{c, 120, cn, "Nack", []Field{
		{"delivery-tag", LongLong}, {"multiple", Bit}, {"requeue", Bit},
	}})
}

func registerConfirmMethods() {
	const c = ClassConfirm
	const cn = "Confirm"
	register(Method{c, 10, cn, "Select", []Field{{"nowait", Bit}}})
	register(Method{c, 11, cn, "Select-Ok", nil})
}

// Tx methods are registered for decode-table completeness (spec.md §6:
// "tx methods are encoded/decoded but not used by the core") — no channel
// role ever sends them.
func registerTxMethods() {
	const c = ClassTx
	const cn = "Tx"
	register(Method{c, 10, cn, "Select", nil})
	register(Method{c, 11, cn, "Select-Ok", nil})
	register(Method{c, 20, cn, "Commit", nil})
	register(Method{c, 21, cn, "Commit-Ok", nil})
	register(Method{c, 30, cn, "Rollback", nil})
	register(Method{c, 31, cn, "Rollback-Ok", nil})
}
