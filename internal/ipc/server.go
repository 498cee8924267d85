package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"remotedev/internal/api"
	"remotedev/internal/daemon"
	"remotedev/internal/logging"
)

// ServiceName is the net/rpc service the daemon registers.
const ServiceName = "Remotedev"

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	svc := &service{daemon: d, logger: logging.NewComponentLogger(logger, "ipc"), ctx: serverCtx}
	if err := rpcServer.RegisterName(ServiceName, svc); err != nil {
		cancel()
		_ = listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "CLI commands may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually or rerun remotedev stop"))
	}
}

// service holds the exported RPC methods. net/rpc requires the
// func (t *T) Name(args A, reply *R) error shape.
type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "processing started"
	s.logger.Info("processing started via IPC", logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.daemon.Stop()
	resp.Stopped = true
	s.logger.Info("processing stopped via IPC", logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	*resp = s.daemon.Status(s.ctx)
	return nil
}

func (s *service) Ingest(req IngestRequest, resp *IngestResponse) error {
	env, err := s.daemon.Ingest(s.ctx, req)
	if err != nil {
		return err
	}
	resp.Envelope = api.FromEnvelope(env)
	resp.Queue = "queue:" + env.Task.CurrentStage
	return nil
}

func (s *service) Show(req ShowRequest, resp *ShowResponse) error {
	found, err := s.daemon.Show(s.ctx, req.ID)
	if err != nil {
		return err
	}
	*resp = found
	return nil
}

func (s *service) Clarify(req ClarifyRequest, resp *ResumeResponse) error {
	env, err := s.daemon.ResumeClarification(s.ctx, req.ID, req.Response)
	if err != nil {
		return err
	}
	resp.Envelope = api.FromEnvelope(env)
	return nil
}

func (s *service) Approve(req ApproveRequest, resp *ResumeResponse) error {
	env, err := s.daemon.ResumeApproval(s.ctx, req.ID, req.Approved, req.Comment)
	if err != nil {
		return err
	}
	resp.Envelope = api.FromEnvelope(env)
	return nil
}

func (s *service) QueueList(req QueueListRequest, resp *QueueListResponse) error {
	queues, err := s.daemon.ListQueues(s.ctx, req.Head)
	if err != nil {
		return err
	}
	resp.Queues = queues
	return nil
}

func (s *service) Pending(_ PendingRequest, resp *PendingResponse) error {
	items, err := s.daemon.Pending(s.ctx)
	if err != nil {
		return err
	}
	resp.Items = items
	resp.Counts = api.CountPending(items)
	return nil
}

func (s *service) WorkItemCreate(req WorkItemCreateRequest, resp *WorkItemResponse) error {
	out, err := s.daemon.CreateWorkItem(s.ctx, req)
	if err != nil {
		return err
	}
	*resp = out
	return nil
}

func (s *service) WorkItemList(_ WorkItemListRequest, resp *WorkItemListResponse) error {
	items, err := s.daemon.ListWorkItems(s.ctx)
	if err != nil {
		return err
	}
	resp.Items = api.FromWorkItems(items)
	return nil
}

func (s *service) WorkItemShow(req WorkItemShowRequest, resp *WorkItemShowResponse) error {
	item, err := s.daemon.GetWorkItem(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Item = item
	return nil
}

func (s *service) WorkItemDelete(req WorkItemDeleteRequest, resp *WorkItemDeleteResponse) error {
	removed, err := s.daemon.DeleteWorkItem(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Removed = removed
	return nil
}

func (s *service) WorkItemEvent(req WorkItemEventRequest, resp *WorkItemResponse) error {
	out, err := s.daemon.HandleEvent(s.ctx, req)
	if err != nil {
		return err
	}
	*resp = out
	return nil
}

func (s *service) WorkItemApprove(req WorkItemApproveRequest, resp *WorkItemResponse) error {
	out, err := s.daemon.SubmitApproval(s.ctx, req.ID, api.ApprovalRequest{
		Type:     req.Type,
		Approved: req.Approved,
		Comment:  req.Comment,
	})
	if err != nil {
		return err
	}
	*resp = out
	return nil
}

func (s *service) Workflows(_ WorkflowsRequest, resp *WorkflowsResponse) error {
	resp.Workflows = s.daemon.Workflows()
	return nil
}

func (s *service) PRWaitRegister(req PRWaitRegisterRequest, resp *PRWaitRegisterResponse) error {
	reg, err := s.daemon.RegisterPRWait(s.ctx, req)
	if err != nil {
		return err
	}
	resp.Item = api.PendingFromRegistration(reg)
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	events, next, err := s.daemon.LogEvents(s.ctx, req.Offset, req.Limit, req.Follow, wait)
	if err != nil {
		return err
	}
	resp.Events = events
	resp.Offset = next
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
