package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func call[Req, Resp any](c *Client, method string, req Req) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(ServiceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Start resumes pipeline processing.
func (c *Client) Start() (*StartResponse, error) {
	return call[StartRequest, StartResponse](c, "Start", StartRequest{})
}

// Stop pauses pipeline processing.
func (c *Client) Stop() (*StopResponse, error) {
	return call[StopRequest, StopResponse](c, "Stop", StopRequest{})
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusRequest, StatusResponse](c, "Status", StatusRequest{})
}

// Ingest queues a new task.
func (c *Client) Ingest(req IngestRequest) (*IngestResponse, error) {
	return call[IngestRequest, IngestResponse](c, "Ingest", req)
}

// Show locates an envelope by id.
func (c *Client) Show(id string) (*ShowResponse, error) {
	return call[ShowRequest, ShowResponse](c, "Show", ShowRequest{ID: id})
}

// Clarify answers a pending clarification.
func (c *Client) Clarify(id, response string) (*ResumeResponse, error) {
	return call[ClarifyRequest, ResumeResponse](c, "Clarify", ClarifyRequest{ID: id, Response: response})
}

// Approve resolves a pending stage approval.
func (c *Client) Approve(req ApproveRequest) (*ResumeResponse, error) {
	return call[ApproveRequest, ResumeResponse](c, "Approve", req)
}

// QueueList returns stage queue depths with up to head envelopes each.
func (c *Client) QueueList(head int) (*QueueListResponse, error) {
	return call[QueueListRequest, QueueListResponse](c, "QueueList", QueueListRequest{Head: head})
}

// Pending lists suspensions, pull request waits and work items awaiting approval.
func (c *Client) Pending() (*PendingResponse, error) {
	return call[PendingRequest, PendingResponse](c, "Pending", PendingRequest{})
}

// WorkItemCreate creates a work item.
func (c *Client) WorkItemCreate(req WorkItemCreateRequest) (*WorkItemResponse, error) {
	return call[WorkItemCreateRequest, WorkItemResponse](c, "WorkItemCreate", req)
}

// WorkItemList lists work items.
func (c *Client) WorkItemList() (*WorkItemListResponse, error) {
	return call[WorkItemListRequest, WorkItemListResponse](c, "WorkItemList", WorkItemListRequest{})
}

// WorkItemShow fetches one work item.
func (c *Client) WorkItemShow(id string) (*WorkItemShowResponse, error) {
	return call[WorkItemShowRequest, WorkItemShowResponse](c, "WorkItemShow", WorkItemShowRequest{ID: id})
}

// WorkItemDelete removes a work item.
func (c *Client) WorkItemDelete(id string) (*WorkItemDeleteResponse, error) {
	return call[WorkItemDeleteRequest, WorkItemDeleteResponse](c, "WorkItemDelete", WorkItemDeleteRequest{ID: id})
}

// WorkItemEvent applies an event to a work item.
func (c *Client) WorkItemEvent(req WorkItemEventRequest) (*WorkItemResponse, error) {
	return call[WorkItemEventRequest, WorkItemResponse](c, "WorkItemEvent", req)
}

// WorkItemApprove records a work item approval.
func (c *Client) WorkItemApprove(req WorkItemApproveRequest) (*WorkItemResponse, error) {
	return call[WorkItemApproveRequest, WorkItemResponse](c, "WorkItemApprove", req)
}

// Workflows lists loaded workflow definitions.
func (c *Client) Workflows() (*WorkflowsResponse, error) {
	return call[WorkflowsRequest, WorkflowsResponse](c, "Workflows", WorkflowsRequest{})
}

// PRWaitRegister parks an envelope until its pull request closes.
func (c *Client) PRWaitRegister(req PRWaitRegisterRequest) (*PRWaitRegisterResponse, error) {
	return call[PRWaitRegisterRequest, PRWaitRegisterResponse](c, "PRWaitRegister", req)
}

// LogTail returns buffered daemon log events.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	return call[LogTailRequest, LogTailResponse](c, "LogTail", req)
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	return call[TestNotificationRequest, TestNotificationResponse](c, "TestNotification", TestNotificationRequest{})
}
