/*
Package signalr contains a signalr client for the JSON hub protocol.
For a deeper understanding of signalr see https://github.com/dotnet/aspnetcore/blob/main/src/SignalR/docs/specs/HubProtocol.md

# Basics

The SignalR Protocol is a protocol for two-way RPC over any Message-based transport.
Either party in the connection may invoke procedures on the other party.
This client sends invocations and waits for their completions, and it dispatches
invocations sent by the server to handlers registered with Client.On.
Frames are JSON texts terminated by the record separator 0x1E.

# Client

A Client is created with NewClient or with a ClientBuilder. It needs the url of the hub.
By default, the connection is a websocket, other transports can be used by passing a Dialer with WithDialer.
After Connect has returned without error, the client is ready to call server methods or to receive callbacks:

	client.On("ReceiveMessage", signalr.Sync2(func(user string, message string) {
		fmt.Println(user, message)
	}))
	if err := client.Connect(ctx); err != nil {
		return err
	}
	echo, err := signalr.InvokeAs[string](client, "Echo", "hi")

Invoke and Send return channels. There is no timeout per invocation, the channels deliver
when the server has answered or the connection is lost.
The client does not reconnect by itself. Use OnDisconnected to learn about a lost connection
and call Connect again if you need to.

# Handlers

Handlers for server-initiated invocations take zero, one or two arguments of any JSON
serializable type, or the raw argument array. Arguments are converted from their JSON
representation, missing arguments are passed as zero values. For each method, one sync
and one async handler can be registered, a new registration replaces the old one.
Method names are matched case-insensitively.
Invocations without a handler are logged and dropped. The server never receives a completion
for its invocations.
*/
package signalr
