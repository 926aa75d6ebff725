package signalr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Client", func() {
	var h *testHub
	var c *client

	BeforeEach(func() {
		h = newTestHub()
	})
	AfterEach(func() {
		if c != nil {
			_ = c.Disconnect()
			c = nil
		}
		h.close()
	})

	Context("NewClient", func() {
		It("should fail without url", func() {
			_, err := NewClient(context.Background(), WithDialer(h.dialer()), testLoggerOption())
			var configErr *ConfigError
			Expect(errors.As(err, &configErr)).To(BeTrue())
		})
		It("should fail when an option fails", func() {
			_, err := NewClient(context.Background(), WithURL("http://hub.test/chat"), ConnectTimeout(0))
			var configErr *ConfigError
			Expect(errors.As(err, &configErr)).To(BeTrue())
		})
		It("should start disconnected", func() {
			c = newTestClient(h)
			Expect(c.State()).To(Equal(ClientDisconnected))
			Expect(c.IsConnected()).To(BeFalse())
		})
	})

	Context("Connect", func() {
		It("should send the handshake and become ready", func() {
			c = newTestClient(h)
			Expect(c.Connect(context.Background())).To(Succeed())
			Eventually(h.handshake).Should(Receive(Equal(`{"protocol":"json","version":1}`)))
			Expect(c.State()).To(Equal(ClientReady))
			Expect(c.IsConnected()).To(BeTrue())
		})
		It("should not connect twice", func() {
			c = connectTestClient(h)
			Expect(c.Connect(context.Background())).To(Succeed())
			Expect(h.dials.Load()).To(Equal(int32(1)))
			Expect(c.IsConnected()).To(BeTrue())
		})
		It("should time out when the socket does not open", func() {
			cl, err := NewClient(context.Background(),
				WithURL("http://hub.test/chat"),
				WithDialer(func(ctx context.Context, address string) (Connection, error) {
					<-ctx.Done()
					return nil, ctx.Err()
				}),
				ConnectTimeout(50*time.Millisecond),
				testLoggerOption())
			Expect(err).NotTo(HaveOccurred())
			err = cl.Connect(context.Background())
			Expect(errors.Is(err, ErrConnectTimeout)).To(BeTrue())
			var connErr *ConnectionError
			Expect(errors.As(err, &connErr)).To(BeTrue())
			Expect(connErr.Op).To(Equal("connect"))
			Expect(cl.State()).To(Equal(ClientDisconnected))
		})
		It("should return the dial error", func() {
			dialErr := errors.New("connection refused")
			cl, err := NewClient(context.Background(),
				WithURL("http://hub.test/chat"),
				WithDialer(func(ctx context.Context, address string) (Connection, error) {
					return nil, dialErr
				}),
				testLoggerOption())
			Expect(err).NotTo(HaveOccurred())
			err = cl.Connect(context.Background())
			Expect(errors.Is(err, dialErr)).To(BeTrue())
			Expect(cl.State()).To(Equal(ClientDisconnected))
			Expect(cl.IsConnected()).To(BeFalse())
		})
		It("should signal the state changes", func() {
			c = newTestClient(h)
			readyCh := WaitForClientState(context.Background(), c, ClientReady)
			Expect(c.Connect(context.Background())).To(Succeed())
			Eventually(readyCh).Should(BeClosed())
		})
		It("should stop waiting for a state when the context is canceled", func() {
			c = newTestClient(h)
			ctx, cancel := context.WithCancel(context.Background())
			readyCh := WaitForClientState(ctx, c, ClientReady)
			cancel()
			Eventually(readyCh).Should(Receive(HaveOccurred()))
		})
	})

	Context("Invoke", func() {
		It("should send the invocation and return the result", func() {
			c = connectTestClient(h)
			resultCh := c.Invoke("Echo", "hi")
			invocation := h.nextInvocation()
			Expect(invocation.Target).To(Equal("Echo"))
			Expect(invocation.InvocationID).NotTo(BeEmpty())
			Expect(invocation.Arguments).To(Equal([]json.RawMessage{json.RawMessage(`"hi"`)}))
			h.send(fmt.Sprintf(`{"type":3,"invocationId":"%s","result":"hi"}`, invocation.InvocationID))
			var result InvokeResult
			Eventually(resultCh).Should(Receive(&result))
			Expect(result.Error).NotTo(HaveOccurred())
			Expect(string(result.Value)).To(Equal(`"hi"`))
			var s string
			Expect(result.Decode(&s)).To(Succeed())
			Expect(s).To(Equal("hi"))
			Expect(c.invokeClient.len()).To(Equal(0))
		})
		It("should send an empty argument array", func() {
			c = connectTestClient(h)
			_ = c.Invoke("NoArgs")
			invocation := h.nextInvocation()
			Expect(invocation.Arguments).NotTo(BeNil())
			Expect(invocation.Arguments).To(BeEmpty())
		})
		It("should return the error sent by the server", func() {
			c = connectTestClient(h)
			resultCh := c.Invoke("Fail")
			invocation := h.nextInvocation()
			h.send(fmt.Sprintf(`{"type":3,"invocationId":"%s","error":"bad state"}`, invocation.InvocationID))
			var result InvokeResult
			Eventually(resultCh).Should(Receive(&result))
			var failed *RequestFailedError
			Expect(errors.As(result.Error, &failed)).To(BeTrue())
			Expect(failed.Message).To(Equal("bad state"))
			Expect(failed.InvocationID).To(Equal(invocation.InvocationID))
			Expect(result.Error.Error()).To(Equal("bad state"))
			// the connection is still usable
			Expect(c.IsConnected()).To(BeTrue())
			resultCh = c.Invoke("Echo", 1)
			invocation = h.nextInvocation()
			h.send(fmt.Sprintf(`{"type":3,"invocationId":"%s","result":1}`, invocation.InvocationID))
			Eventually(resultCh).Should(Receive(&result))
			Expect(result.Error).NotTo(HaveOccurred())
		})
		It("should fail when the server sends result and error", func() {
			c = connectTestClient(h)
			resultCh := c.Invoke("Echo", "x")
			invocation := h.nextInvocation()
			h.send(fmt.Sprintf(`{"type":3,"invocationId":"%s","result":"x","error":"bad state"}`, invocation.InvocationID))
			var result InvokeResult
			Eventually(resultCh).Should(Receive(&result))
			var failed *RequestFailedError
			Expect(errors.As(result.Error, &failed)).To(BeTrue())
			Expect(failed.Message).To(Equal("bad state"))
			Expect(c.invokeClient.len()).To(Equal(0))
			Expect(c.IsConnected()).To(BeTrue())
		})
		It("should correlate completions arriving in a different order", func() {
			c = connectTestClient(h)
			firstCh := c.Invoke("Echo", "first")
			first := h.nextInvocation()
			secondCh := c.Invoke("Echo", "second")
			second := h.nextInvocation()
			Expect(first.InvocationID).NotTo(Equal(second.InvocationID))
			// both completions in one write
			_, err := h.server.Write([]byte(fmt.Sprintf("{\"type\":3,\"invocationId\":\"%s\",\"result\":\"second\"}\x1e{\"type\":3,\"invocationId\":\"%s\",\"result\":\"first\"}\x1e",
				second.InvocationID, first.InvocationID)))
			Expect(err).NotTo(HaveOccurred())
			var result InvokeResult
			Eventually(firstCh).Should(Receive(&result))
			Expect(string(result.Value)).To(Equal(`"first"`))
			Eventually(secondCh).Should(Receive(&result))
			Expect(string(result.Value)).To(Equal(`"second"`))
		})
		It("should reassemble a completion split across writes", func() {
			c = connectTestClient(h)
			resultCh := c.Invoke("Echo", "split")
			invocation := h.nextInvocation()
			frame := fmt.Sprintf("{\"type\":3,\"invocationId\":\"%s\",\"result\":\"split\"}\x1e", invocation.InvocationID)
			for _, part := range []string{frame[:10], frame[10:30], frame[30:]} {
				_, err := h.server.Write([]byte(part))
				Expect(err).NotTo(HaveOccurred())
			}
			var result InvokeResult
			Eventually(resultCh).Should(Receive(&result))
			Expect(string(result.Value)).To(Equal(`"split"`))
		})
		It("should ignore a completion nobody waits for", func() {
			c = connectTestClient(h)
			h.send(`{"type":3,"invocationId":"unknown","result":1}`)
			resultCh := c.Invoke("Echo", 2)
			invocation := h.nextInvocation()
			h.send(fmt.Sprintf(`{"type":3,"invocationId":"%s","result":2}`, invocation.InvocationID))
			var result InvokeResult
			Eventually(resultCh).Should(Receive(&result))
			Expect(string(result.Value)).To(Equal(`2`))
		})
		It("should fail when not connected", func() {
			c = newTestClient(h)
			var result InvokeResult
			Eventually(c.Invoke("Echo", "hi")).Should(Receive(&result))
			Expect(errors.Is(result.Error, ErrNotConnected)).To(BeTrue())
			var connErr *ConnectionError
			Expect(errors.As(result.Error, &connErr)).To(BeTrue())
			Expect(connErr.Op).To(Equal("send"))
		})
		It("should fail when the argument can not be encoded", func() {
			c = connectTestClient(h)
			var result InvokeResult
			Eventually(c.Invoke("Echo", make(chan int))).Should(Receive(&result))
			Expect(result.Error).To(HaveOccurred())
			Expect(c.invokeClient.len()).To(Equal(0))
			Expect(c.IsConnected()).To(BeTrue())
		})
	})

	Context("InvokeAs", func() {
		It("should convert the result", func() {
			c = connectTestClient(h)
			resultCh := make(chan int, 1)
			go func() {
				defer GinkgoRecover()
				i, err := InvokeAs[int](c, "Add", 1, 2)
				Expect(err).NotTo(HaveOccurred())
				resultCh <- i
			}()
			invocation := h.nextInvocation()
			h.send(fmt.Sprintf(`{"type":3,"invocationId":"%s","result":"3"}`, invocation.InvocationID))
			Eventually(resultCh).Should(Receive(Equal(3)))
		})
		It("should return ErrNullResult without result", func() {
			c = connectTestClient(h)
			errCh := make(chan error, 1)
			go func() {
				_, err := InvokeAs[string](c, "Nothing")
				errCh <- err
			}()
			invocation := h.nextInvocation()
			h.send(fmt.Sprintf(`{"type":3,"invocationId":"%s","result":null}`, invocation.InvocationID))
			Eventually(errCh).Should(Receive(MatchError(ErrNullResult)))
		})
	})

	Context("Send", func() {
		It("should return nil when the server completes without error", func() {
			c = connectTestClient(h)
			errCh := c.Send("Notify", 1)
			invocation := h.nextInvocation()
			h.send(fmt.Sprintf(`{"type":3,"invocationId":"%s"}`, invocation.InvocationID))
			Eventually(errCh).Should(Receive(BeNil()))
		})
		It("should return the server error", func() {
			c = connectTestClient(h)
			errCh := c.Send("Notify", 1)
			invocation := h.nextInvocation()
			h.send(fmt.Sprintf(`{"type":3,"invocationId":"%s","error":"no"}`, invocation.InvocationID))
			Eventually(errCh).Should(Receive(MatchError("no")))
		})
	})

	Context("On", func() {
		It("should call the handler with converted arguments", func() {
			c = connectTestClient(h)
			received := make(chan int, 1)
			c.On("Notify", Sync1(func(i int) { received <- i }))
			h.send(`{"type":1,"target":"Notify","arguments":[42]}`)
			Eventually(received).Should(Receive(Equal(42)))
		})
		It("should match the method name case-insensitive", func() {
			c = connectTestClient(h)
			received := make(chan string, 1)
			c.On("receivemessage", Sync2(func(user string, message string) { received <- user + ":" + message }))
			h.send(`{"type":1,"target":"ReceiveMessage","arguments":["ann","hello"]}`)
			Eventually(received).Should(Receive(Equal("ann:hello")))
		})
		It("should drop invocations without handler and go on", func() {
			c = connectTestClient(h)
			received := make(chan struct{}, 1)
			c.On("Known", Sync0(func() { received <- struct{}{} }))
			h.send(`{"type":1,"target":"Unknown","arguments":[1]}`)
			h.send(`{"type":1,"target":"Known","arguments":[]}`)
			Eventually(received).Should(Receive())
			Expect(c.IsConnected()).To(BeTrue())
		})
		It("should run sync and async handlers", func() {
			c = connectTestClient(h)
			received := make(chan string, 2)
			c.On("Notify", Sync1(func(s string) { received <- "sync " + s }))
			c.On("Notify", Async1(func(ctx context.Context, s string) error {
				received <- "async " + s
				return nil
			}))
			h.send(`{"type":1,"target":"Notify","arguments":["x"]}`)
			Eventually(received).Should(Receive(Equal("sync x")))
			Eventually(received).Should(Receive(Equal("async x")))
		})
		It("should survive a panicking handler", func() {
			c = connectTestClient(h)
			received := make(chan struct{}, 1)
			c.On("Panic", Sync0(func() { panic("handler failed") }))
			c.On("Next", Sync0(func() { received <- struct{}{} }))
			h.send(`{"type":1,"target":"Panic","arguments":[]}`)
			h.send(`{"type":1,"target":"Next","arguments":[]}`)
			Eventually(received).Should(Receive())
			Expect(c.IsConnected()).To(BeTrue())
		})
		It("should dispatch server invocations which expect a completion", func() {
			c = connectTestClient(h)
			received := make(chan int, 1)
			c.On("Notify", Sync1(func(i int) { received <- i }))
			h.send(`{"type":1,"invocationId":"server-1","target":"Notify","arguments":[7]}`)
			Eventually(received).Should(Receive(Equal(7)))
		})
	})

	Context("OnMessage", func() {
		It("should observe every message", func() {
			c = connectTestClient(h)
			messages := make(chan HubMessage, 10)
			c.OnMessage(func(message HubMessage) { messages <- message })
			h.send(`{"type":6}`)
			h.send(`{"type":1,"target":"Unknown","arguments":[]}`)
			var message HubMessage
			Eventually(messages).Should(Receive(&message))
			Expect(message.Kind).To(Equal(MessagePing))
			Eventually(messages).Should(Receive(&message))
			Expect(message.Kind).To(Equal(MessageInvocation))
			Expect(message.Target).To(Equal("Unknown"))
		})
		It("should skip malformed frames", func() {
			c = connectTestClient(h)
			messages := make(chan HubMessage, 10)
			c.OnMessage(func(message HubMessage) { messages <- message })
			h.send(`{"type":1,`)
			h.send(`{"type":6}`)
			var message HubMessage
			Eventually(messages).Should(Receive(&message))
			Expect(message.Kind).To(Equal(MessagePing))
			Expect(c.IsConnected()).To(BeTrue())
		})
	})

	Context("Keep alive", func() {
		It("should ping an idle server", func() {
			c = connectTestClient(h, KeepAliveInterval(20*time.Millisecond))
			var message HubMessage
			Eventually(h.received).Should(Receive(&message))
			Expect(message.Kind).To(Equal(MessagePing))
		})
	})

	Context("Disconnect", func() {
		It("should fail pending invocations and tell the server", func() {
			c = connectTestClient(h)
			disconnected := make(chan string, 1)
			c.OnDisconnected(func(reason string) { disconnected <- reason })
			resultCh := c.Invoke("Echo", "never answered")
			h.nextInvocation()
			Expect(c.Disconnect()).To(Succeed())
			var result InvokeResult
			Eventually(resultCh).Should(Receive(&result))
			var failed *RequestFailedError
			Expect(errors.As(result.Error, &failed)).To(BeTrue())
			Expect(errors.Is(result.Error, errConnectionLost)).To(BeTrue())
			var message HubMessage
			Eventually(h.received).Should(Receive(&message))
			Expect(message.Kind).To(Equal(MessageClose))
			Expect(c.State()).To(Equal(ClientDisconnected))
			Expect(c.IsConnected()).To(BeFalse())
			Consistently(disconnected, 100*time.Millisecond).ShouldNot(Receive())
			Expect(c.invokeClient.len()).To(Equal(0))
		})
		It("should do nothing when not connected", func() {
			c = newTestClient(h)
			Expect(c.Disconnect()).To(Succeed())
			Expect(c.State()).To(Equal(ClientDisconnected))
		})
		It("should disconnect when the client context is canceled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cl, err := NewClient(ctx, WithURL("http://hub.test/chat"), WithDialer(h.dialer()), KeepAliveInterval(0), testLoggerOption())
			Expect(err).NotTo(HaveOccurred())
			c = cl.(*client)
			Expect(c.Connect(context.Background())).To(Succeed())
			disconnected := make(chan string, 1)
			c.OnDisconnected(func(reason string) { disconnected <- reason })
			cancel()
			Eventually(disconnected).Should(Receive(ContainSubstring("context canceled")))
			Expect(c.State()).To(Equal(ClientDisconnected))
		})
	})

	Context("Connection loss", func() {
		It("should notify once and fail pending invocations when the transport fails", func() {
			c = connectTestClient(h)
			disconnected := make(chan string, 10)
			c.OnDisconnected(func(reason string) { disconnected <- reason })
			resultCh := c.Invoke("Echo", "never answered")
			h.nextInvocation()
			h.conn.FailRead(errors.New("test fail"))
			Eventually(disconnected).Should(Receive(Equal("test fail")))
			var result InvokeResult
			Eventually(resultCh).Should(Receive(&result))
			Expect(errors.Is(result.Error, errConnectionLost)).To(BeTrue())
			Expect(c.State()).To(Equal(ClientDisconnected))
			Consistently(disconnected, 200*time.Millisecond).ShouldNot(Receive())
		})
		It("should notify when the server closes the connection", func() {
			c = connectTestClient(h)
			disconnected := make(chan string, 10)
			c.OnDisconnected(func(reason string) { disconnected <- reason })
			h.close()
			Eventually(disconnected).Should(Receive(Equal(serverClosedReason)))
			Expect(c.IsConnected()).To(BeFalse())
			Consistently(disconnected, 100*time.Millisecond).ShouldNot(Receive())
		})
		It("should notify when the transport reports the close without data", func() {
			conn := newClosingConnection()
			c = newTestClient(h, WithDialer(func(ctx context.Context, address string) (Connection, error) {
				return conn, nil
			}))
			Expect(c.Connect(context.Background())).To(Succeed())
			disconnected := make(chan string, 10)
			c.OnDisconnected(func(reason string) { disconnected <- reason })
			resultCh := c.Invoke("Echo", "never answered")
			conn.closeFromServer()
			Eventually(disconnected).Should(Receive(Equal(serverClosedReason)))
			var result InvokeResult
			Eventually(resultCh).Should(Receive(&result))
			Expect(errors.Is(result.Error, errConnectionLost)).To(BeTrue())
			Expect(c.State()).To(Equal(ClientDisconnected))
			Consistently(disconnected, 100*time.Millisecond).ShouldNot(Receive())
		})
		It("should disconnect once when routing a message panics", func() {
			c = connectTestClient(h)
			disconnected := make(chan string, 10)
			c.OnDisconnected(func(reason string) { disconnected <- reason })
			resultCh := c.Invoke("Echo", "never answered")
			h.nextInvocation()
			c.OnMessage(func(message HubMessage) { panic("observer failed") })
			h.send(`{"type":6}`)
			Eventually(disconnected).Should(Receive(Equal("unexpected error in message loop: observer failed")))
			var result InvokeResult
			Eventually(resultCh).Should(Receive(&result))
			Expect(errors.Is(result.Error, errConnectionLost)).To(BeTrue())
			Expect(c.State()).To(Equal(ClientDisconnected))
			Consistently(disconnected, 100*time.Millisecond).ShouldNot(Receive())
		})
		It("should reject invocations after the connection is lost", func() {
			c = connectTestClient(h)
			h.close()
			Eventually(c.State).Should(Equal(ClientDisconnected))
			var result InvokeResult
			Eventually(c.Invoke("Echo")).Should(Receive(&result))
			Expect(errors.Is(result.Error, ErrNotConnected)).To(BeTrue())
		})
	})
})
