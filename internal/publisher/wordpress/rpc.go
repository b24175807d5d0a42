package wordpress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"

	"github.com/kolo/xmlrpc"
	"uk.co.dudmesh.herald/internal/model"
	"uk.co.dudmesh.herald/internal/publisher"
)

var faultPattern = regexp.MustCompile(`Fault\((-?\d+)\):\s*(.*)`)
var badStatusPattern = regexp.MustCompile(`bad status code - (\d+)`)

// transport binds an XML-RPC exchange to a context, adds Basic Auth and turns
// non-2xx responses into classified errors.
type transport struct {
	ctx      context.Context
	username string
	password string
	base     http.RoundTripper
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(t.ctx)
	req.SetBasicAuth(t.username, t.password)

	res, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		res.Body.Close()
		return nil, publisher.ClassifyStatus(res.StatusCode, string(body))
	}
	return res, nil
}

// call runs one XML-RPC method. Each call gets its own client so that a
// transport failure cannot poison later calls.
func (p *Publisher) call(ctx context.Context, method string, args []interface{}, reply interface{}) error {
	client, err := xmlrpc.NewClient(p.endpoint, &transport{
		ctx:      ctx,
		username: p.username,
		password: p.password,
		base:     p.base,
	})
	if err != nil {
		return model.Validationf("creating xml-rpc client for %s: %v", p.endpoint, err)
	}
	defer client.Close()

	if err := client.Call(method, args, reply); err != nil {
		return classify(method, err)
	}
	return nil
}

// classify maps an XML-RPC failure onto an error kind.
func classify(method string, err error) error {
	var pe *model.PublishError
	if errors.As(err, &pe) {
		return fmt.Errorf("%s: %w", method, err)
	}

	code, message, isFault := faultOf(err)
	if isFault {
		switch code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return model.Authf("%s: fault %d: %s", method, code, message)
		case http.StatusMethodNotAllowed:
			return model.Validationf("%s: xml-rpc is disabled on this site: fault %d: %s", method, code, message)
		default:
			return model.Validationf("%s: fault %d: %s", method, code, message)
		}
	}

	if m := badStatusPattern.FindStringSubmatch(err.Error()); m != nil {
		status, _ := strconv.Atoi(m[1])
		return fmt.Errorf("%s: %w", method, publisher.ClassifyStatus(status, ""))
	}

	return publisher.ClassifyTransport(method, err)
}

func faultOf(err error) (int, string, bool) {
	var fault xmlrpc.FaultError
	if errors.As(err, &fault) {
		return fault.Code, fault.String, true
	}
	if m := faultPattern.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return code, m[2], true
	}
	return 0, "", false
}
