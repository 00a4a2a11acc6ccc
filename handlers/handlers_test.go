package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"sandbox_server/agent"
	"sandbox_server/llm/llmtest"
	"sandbox_server/sandbox"
	"sandbox_server/sandbox/sandboxtest"
	"sandbox_server/stream"
	"sandbox_server/tools"
)

// sseFrame is one parsed Server-Sent Events frame.
type sseFrame struct {
	Event string
	Data  string
}

func parseSSE(body string) []sseFrame {
	var frames []sseFrame
	for _, block := range strings.Split(body, "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		var f sseFrame
		var data []string
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				f.Event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = append(data, strings.TrimPrefix(line, "data: "))
			}
		}
		f.Data = strings.Join(data, "\n")
		frames = append(frames, f)
	}
	return frames
}

func recordOf(f sseFrame) map[string]any {
	var rec map[string]any
	Expect(json.Unmarshal([]byte(f.Data), &rec)).To(Succeed())
	return rec
}

var _ = Describe("Chat routes", func() {
	var (
		srv      *httptest.Server
		registry *stream.Registry
		threads  *agent.ThreadStore
		client   *llmtest.Client
		provider *sandboxtest.Provider
		driver   *stream.Driver
	)

	submit := func(chatID, body string) (int, map[string]string) {
		resp, err := http.Post(srv.URL+"/chats/"+chatID+"/messages", "application/json", strings.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		var out map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	open := func(chatID, handle string) []sseFrame {
		resp, err := http.Get(srv.URL + "/chats/" + chatID + "/streams/" + handle)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return parseSSE(string(body))
	}

	BeforeEach(func() {
		registry = stream.NewRegistry()
		threads = agent.NewThreadStore(time.Hour)
		provider = &sandboxtest.Provider{Run: sandboxtest.Run{
			Notifications: []sandbox.Notification{{Kind: sandbox.KindStdout, Text: "4\n"}},
			Execution:     &sandbox.Execution{Logs: sandbox.Logs{Stdout: []string{"4\n"}}},
		}}
		client = llmtest.NewClient()
	})

	JustBeforeEach(func() {
		ag := agent.NewAgent(&agent.Config{SystemPrompt: "sys"}, client,
			[]agent.Tool{tools.NewCodeSandbox(provider, nil)}, nil, threads)
		driver = stream.NewDriver(registry, ag, nil)
		driver.ForwardToolOutput = true

		r := mux.NewRouter()
		RegisterRoutes(r, &Deps{Streams: registry, Driver: driver})
		srv = httptest.NewServer(r)
	})

	AfterEach(func() {
		srv.Close()
		threads.Close()
	})

	Context("with a text-only answer", func() {
		BeforeEach(func() {
			client = llmtest.NewClient(llmtest.TextTurn("2+2", " is 4"))
		})

		It("streams text records, closes, and refuses a second read", func() {
			status, out := submit("c1", `{"message":"2+2"}`)
			Expect(status).To(Equal(http.StatusOK))
			handle := out["stream_id"]
			Expect(handle).NotTo(BeEmpty())

			frames := open("c1", handle)
			Expect(len(frames)).To(BeNumerically(">=", 2))

			first := recordOf(frames[0])
			Expect(first["type"]).To(Equal("text"))
			Expect(first["data"]).To(Equal("2+2"))
			Expect(first["message_id"]).NotTo(BeEmpty())
			Expect(first).NotTo(HaveKey("name"))

			last := frames[len(frames)-1]
			Expect(last.Event).To(Equal("closedConnection"))
			Expect(last.Data).To(Equal("Stream finished"))
			Expect(registry.Len()).To(Equal(0))

			again := open("c1", handle)
			Expect(again).To(HaveLen(1))
			Expect(again[0].Event).To(Equal("error"))
			Expect(again[0].Data).To(MatchJSON(`{"error":"stream not found"}`))
		})

		It("uses the chat id as the conversation thread", func() {
			_, out := submit("c1", `{"message":"2+2"}`)
			open("c1", out["stream_id"])

			state := threads.Load("c1")
			Expect(state.Messages).To(HaveLen(2))
			Expect(state.Messages[0].Content).To(Equal("2+2"))
		})
	})

	Context("with a tool call", func() {
		BeforeEach(func() {
			client = llmtest.NewClient(
				llmtest.ToolCallTurn("Let me run it", "call_1", "code_sandbox", `{"code":`, `"print(2+2)"}`),
				llmtest.TextTurn("The answer is 4"),
			)
		})

		It("groups records by turn and forwards sandbox output", func() {
			_, out := submit("c1", `{"message":"what is 2+2?"}`)
			frames := open("c1", out["stream_id"])
			Expect(frames[len(frames)-1].Event).To(Equal("closedConnection"))

			var recs []map[string]any
			for _, f := range frames[:len(frames)-1] {
				Expect(f.Event).To(BeEmpty())
				recs = append(recs, recordOf(f))
			}

			types := make([]any, len(recs))
			for i, r := range recs {
				types[i] = r["type"]
			}
			Expect(types).To(Equal([]any{
				"text", "tool_call_chunk", "tool_call_chunk", "tool_call_chunk",
				"tool_output", "text", "text",
			}))

			modelTurn := recs[0]["message_id"]
			for _, r := range recs[1:4] {
				Expect(r["message_id"]).To(Equal(modelTurn))
			}
			Expect(recs[1]["name"]).To(Equal("code_sandbox"))
			Expect(recs[2]).NotTo(HaveKey("name"))
			Expect(recs[2]["data"]).To(Equal(`{"code":`))

			toolTurn := recs[4]["message_id"]
			Expect(toolTurn).NotTo(Equal(modelTurn))
			Expect(recs[4]["data"]).To(Equal(map[string]any{"kind": "stdout", "text": "4\n"}))
			Expect(recs[5]["message_id"]).To(Equal(toolTurn))
			Expect(recs[5]["data"]).To(Equal("4\n"))

			Expect(recs[6]["message_id"]).NotTo(Equal(toolTurn))
			Expect(recs[6]["data"]).To(Equal("The answer is 4"))

			Expect(provider.Calls()).To(HaveLen(1))
			Expect(provider.Calls()[0].Code).To(Equal("print(2+2)"))
		})
	})

	Context("when the model fails", func() {
		BeforeEach(func() {
			client = llmtest.NewClient()
		})

		It("ends the response without a closing frame", func() {
			_, out := submit("c1", `{"message":"hi"}`)
			frames := open("c1", out["stream_id"])
			for _, f := range frames {
				Expect(f.Event).NotTo(Equal("closedConnection"))
			}
			Expect(registry.Len()).To(Equal(0))
		})
	})

	Describe("submitting", func() {
		It("defaults a missing message to empty", func() {
			status, out := submit("c1", `{}`)
			Expect(status).To(Equal(http.StatusOK))
			pm, err := registry.Take(out["stream_id"])
			Expect(err).NotTo(HaveOccurred())
			Expect(pm).To(Equal(stream.PendingMessage{ChatID: "c1", Message: ""}))
		})

		It("rejects malformed JSON", func() {
			status, out := submit("c1", `{"message":`)
			Expect(status).To(Equal(http.StatusBadRequest))
			Expect(out["error"]).NotTo(BeEmpty())
			Expect(registry.Len()).To(Equal(0))
		})

		It("issues distinct handles", func() {
			_, a := submit("c1", `{"message":"a"}`)
			_, b := submit("c1", `{"message":"b"}`)
			Expect(a["stream_id"]).NotTo(Equal(b["stream_id"]))
			Expect(registry.Len()).To(Equal(2))
		})
	})

	Describe("the WebSocket route", func() {
		BeforeEach(func() {
			client = llmtest.NewClient(llmtest.TextTurn("hello"))
		})

		It("sends the same frames as JSON messages", func() {
			_, out := submit("c1", `{"message":"hi"}`)
			url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chats/c1/streams/" + out["stream_id"] + "/ws"

			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()

			var frames []wsFrame
			for {
				var f wsFrame
				if err := conn.ReadJSON(&f); err != nil {
					break
				}
				frames = append(frames, f)
			}
			Expect(frames).To(HaveLen(2))
			Expect(frames[0].Event).To(Equal("message"))
			Expect(frames[0].Data).To(HaveKeyWithValue("data", "hello"))
			Expect(frames[1]).To(Equal(wsFrame{Event: "closedConnection", Data: "Stream finished"}))
		})
	})
})
