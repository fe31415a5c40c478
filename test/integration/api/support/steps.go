package support

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/facecls/internal/server"
	"github.com/MeKo-Tech/facecls/internal/service"
	"github.com/MeKo-Tech/facecls/internal/testutil"
)

// RegisterSteps wires every step of the API suite into sc.
func (c *APIContext) RegisterSteps(sc *godog.ScenarioContext) {
	// Server setup
	sc.Step(`^the classification server is running$`, c.theServerIsRunning)
	sc.Step(`^the server has no classifier loaded$`, c.theServerHasNoClassifier)
	sc.Step(`^the model always predicts "([^"]*)"$`, c.theModelAlwaysPredicts)
	sc.Step(`^clients may send (\d+) requests? per minute$`, c.clientsMaySendPerMinute)
	sc.Step(`^the classifier is reloaded$`, c.theClassifierIsReloaded)

	// Inputs
	sc.Step(`^an image with (\d+) faces? having (\d+) eyes? each$`, c.anImageWithFaces)
	sc.Step(`^a file that is not an image$`, c.aFileThatIsNotAnImage)

	// Requests
	sc.Step(`^I post the image as base64 form data$`, c.iPostTheImageAsFormData)
	sc.Step(`^I post the image as a data URI in JSON$`, c.iPostTheImageAsJSON)
	sc.Step(`^I upload the image as a multipart file$`, c.iUploadTheImage)
	sc.Step(`^I post an empty form$`, c.iPostAnEmptyForm)
	sc.Step(`^I send a GET request to "([^"]*)"$`, c.iSendAGETRequest)
	sc.Step(`^I send the image over the WebSocket as request "([^"]*)"$`, c.iSendOverWebSocket)

	// Assertions
	sc.Step(`^the response status should be (\d+)$`, c.theResponseStatusShouldBe)
	sc.Step(`^the response should contain (\d+) results?$`, c.theResponseShouldContainResults)
	sc.Step(`^every result should be classified as "([^"]*)"$`, c.everyResultShouldBeClassifiedAs)
	sc.Step(`^every result should have probability ([\d.]+) for its class$`, c.everyResultShouldHaveProbability)
	sc.Step(`^the error message should be "([^"]*)"$`, c.theErrorMessageShouldBe)
	sc.Step(`^the error message should contain "([^"]*)"$`, c.theErrorMessageShouldContain)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, c.theResponseHeaderShouldBe)
	sc.Step(`^the response header "([^"]*)" should be set$`, c.theResponseHeaderShouldBeSet)
	sc.Step(`^the health status should be "([^"]*)"$`, c.theHealthStatusShouldBe)
	sc.Step(`^the server should report ready as (true|false)$`, c.theServerShouldReportReady)
	sc.Step(`^the labels response should list (\d+) classes$`, c.theLabelsShouldList)
	sc.Step(`^the class "([^"]*)" should have index (\d+)$`, c.theClassShouldHaveIndex)
	sc.Step(`^the WebSocket reply should have status "([^"]*)" and request "([^"]*)"$`, c.theWebSocketReplyShouldBe)
	sc.Step(`^the WebSocket error type should be "([^"]*)"$`, c.theWebSocketErrorTypeShouldBe)
}

func (c *APIContext) theServerIsRunning() error {
	_, err := c.baseURL()
	return err
}

func (c *APIContext) theServerHasNoClassifier() error {
	c.WithService = false
	return nil
}

func (c *APIContext) theModelAlwaysPredicts(class string) error {
	c.Predicted = class
	return nil
}

func (c *APIContext) clientsMaySendPerMinute(n int) error {
	c.Config.RateLimit.RequestsPerMinute = n
	return nil
}

func (c *APIContext) theClassifierIsReloaded() error {
	return c.swapService()
}

func (c *APIContext) anImageWithFaces(faces, eyes int) error {
	specs := make([]testutil.FaceSpec, faces)
	for i := range specs {
		x := 10 + i*110
		specs[i] = testutil.FaceSpec{Box: image.Rect(x, 10, x+100, 110), Eyes: eyes}
	}
	return c.setImage(testutil.FaceScene(max(1, faces)*110+10, 120, specs...))
}

func (c *APIContext) aFileThatIsNotAnImage() error {
	c.Image = []byte("this is not an image")
	return nil
}

func (c *APIContext) iPostTheImageAsFormData() error {
	form := url.Values{"image_data": {c.imageBase64()}}
	return c.post("application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
}

func (c *APIContext) iPostTheImageAsJSON() error {
	body, err := json.Marshal(server.ClassifyRequest{ImageData: "data:image/png;base64," + c.imageBase64()})
	if err != nil {
		return err
	}
	return c.post("application/json", bytes.NewReader(body))
}

func (c *APIContext) iUploadTheImage() error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "upload.png")
	if err != nil {
		return err
	}
	if _, err := part.Write(c.Image); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return c.post(mw.FormDataContentType(), &buf)
}

func (c *APIContext) iPostAnEmptyForm() error {
	return c.post("application/x-www-form-urlencoded", strings.NewReader(""))
}

func (c *APIContext) post(contentType string, body io.Reader) error {
	base, err := c.baseURL()
	if err != nil {
		return err
	}
	resp, err := http.Post(base+"/classify_image", contentType, body) //nolint:noctx // test client
	if err != nil {
		return err
	}
	return c.record(resp)
}

func (c *APIContext) iSendAGETRequest(path string) error {
	base, err := c.baseURL()
	if err != nil {
		return err
	}
	resp, err := http.Get(base + path) //nolint:noctx // test client
	if err != nil {
		return err
	}
	return c.record(resp)
}

func (c *APIContext) record(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	c.LastStatus = resp.StatusCode
	c.LastHeaders = resp.Header
	c.LastBody = body
	return nil
}

func (c *APIContext) iSendOverWebSocket(requestID string) error {
	base, err := c.baseURL()
	if err != nil {
		return err
	}
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(base, "http")+"/ws/classify", nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err := conn.WriteJSON(server.WebSocketClassifyRequest{ImageData: c.imageBase64(), RequestID: requestID}); err != nil {
		return err
	}
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	c.LastStatus = http.StatusSwitchingProtocols
	c.LastBody = data
	return nil
}

func (c *APIContext) theResponseStatusShouldBe(status int) error {
	if c.LastStatus != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, c.LastStatus, c.LastBody)
	}
	return nil
}

func (c *APIContext) results() ([]service.Result, error) {
	var results []service.Result
	if err := json.Unmarshal(c.LastBody, &results); err != nil {
		return nil, fmt.Errorf("response is not a result array: %w: %s", err, c.LastBody)
	}
	return results, nil
}

func (c *APIContext) theResponseShouldContainResults(n int) error {
	results, err := c.results()
	if err != nil {
		return err
	}
	if len(results) != n {
		return fmt.Errorf("expected %d results, got %d", n, len(results))
	}
	return nil
}

func (c *APIContext) everyResultShouldBeClassifiedAs(class string) error {
	results, err := c.results()
	if err != nil {
		return err
	}
	for i, r := range results {
		if r.Class != class {
			return fmt.Errorf("result %d: expected class %q, got %q", i, class, r.Class)
		}
	}
	return nil
}

func (c *APIContext) everyResultShouldHaveProbability(want float64) error {
	results, err := c.results()
	if err != nil {
		return err
	}
	for i, r := range results {
		idx, ok := r.ClassDictionary[r.Class]
		if !ok {
			return fmt.Errorf("result %d: class %q missing from its dictionary", i, r.Class)
		}
		pos := 0
		for _, other := range r.ClassDictionary {
			if other < idx {
				pos++
			}
		}
		if got := r.ClassProbability[pos]; math.Abs(got-want) > 1e-9 {
			return fmt.Errorf("result %d: expected probability %v, got %v", i, want, got)
		}
	}
	return nil
}

func (c *APIContext) errorMessage() (string, error) {
	var resp server.ErrorResponse
	if err := json.Unmarshal(c.LastBody, &resp); err != nil {
		return "", fmt.Errorf("response is not an error body: %w: %s", err, c.LastBody)
	}
	if resp.Success {
		return "", errors.New("error response reports success")
	}
	return resp.Error, nil
}

func (c *APIContext) theErrorMessageShouldBe(want string) error {
	got, err := c.errorMessage()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("expected error %q, got %q", want, got)
	}
	return nil
}

func (c *APIContext) theErrorMessageShouldContain(want string) error {
	got, err := c.errorMessage()
	if err != nil {
		return err
	}
	if !strings.Contains(got, want) {
		return fmt.Errorf("expected error containing %q, got %q", want, got)
	}
	return nil
}

func (c *APIContext) theResponseHeaderShouldBe(name, want string) error {
	if got := c.LastHeaders.Get(name); got != want {
		return fmt.Errorf("expected header %s=%q, got %q", name, want, got)
	}
	return nil
}

func (c *APIContext) theResponseHeaderShouldBeSet(name string) error {
	if c.LastHeaders.Get(name) == "" {
		return fmt.Errorf("header %s is not set", name)
	}
	return nil
}

func (c *APIContext) health() (server.HealthResponse, error) {
	var h server.HealthResponse
	if err := json.Unmarshal(c.LastBody, &h); err != nil {
		return h, fmt.Errorf("response is not a health body: %w", err)
	}
	return h, nil
}

func (c *APIContext) theHealthStatusShouldBe(status string) error {
	h, err := c.health()
	if err != nil {
		return err
	}
	if h.Status != status {
		return fmt.Errorf("expected health %q, got %q", status, h.Status)
	}
	return nil
}

func (c *APIContext) theServerShouldReportReady(ready string) error {
	h, err := c.health()
	if err != nil {
		return err
	}
	if want := ready == "true"; h.Ready != want {
		return fmt.Errorf("expected ready=%v, got %v", want, h.Ready)
	}
	return nil
}

func (c *APIContext) labels() (server.LabelsResponse, error) {
	var l server.LabelsResponse
	if err := json.Unmarshal(c.LastBody, &l); err != nil {
		return l, fmt.Errorf("response is not a labels body: %w", err)
	}
	return l, nil
}

func (c *APIContext) theLabelsShouldList(n int) error {
	l, err := c.labels()
	if err != nil {
		return err
	}
	if l.Count != n || len(l.ClassDictionary) != n {
		return fmt.Errorf("expected %d classes, got count=%d entries=%d", n, l.Count, len(l.ClassDictionary))
	}
	return nil
}

func (c *APIContext) theClassShouldHaveIndex(name string, idx int) error {
	l, err := c.labels()
	if err != nil {
		return err
	}
	got, ok := l.ClassDictionary[name]
	if !ok {
		return fmt.Errorf("class %q not listed", name)
	}
	if got != idx {
		return fmt.Errorf("expected %q at index %d, got %d", name, idx, got)
	}
	return nil
}

func (c *APIContext) theWebSocketReplyShouldBe(status, requestID string) error {
	var reply server.WebSocketClassifyResponse
	if err := json.Unmarshal(c.LastBody, &reply); err != nil {
		return fmt.Errorf("reply is not JSON: %w", err)
	}
	if reply.Status != status {
		return fmt.Errorf("expected status %q, got %q (%s)", status, reply.Status, reply.Error)
	}
	if reply.RequestID != requestID {
		return fmt.Errorf("expected request %q, got %q", requestID, reply.RequestID)
	}
	return nil
}

func (c *APIContext) theWebSocketErrorTypeShouldBe(errType string) error {
	var reply server.WebSocketClassifyResponse
	if err := json.Unmarshal(c.LastBody, &reply); err != nil {
		return fmt.Errorf("reply is not JSON: %w", err)
	}
	if reply.ErrorType != errType {
		return fmt.Errorf("expected error type %q, got %q (%s)", errType, reply.ErrorType, reply.Error)
	}
	return nil
}
