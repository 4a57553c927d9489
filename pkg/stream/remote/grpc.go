/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package remote

import (
	"context"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/traas-stack/holoinsight-collector/pkg/cluster"
	"github.com/traas-stack/holoinsight-collector/pkg/logger"
	"github.com/traas-stack/holoinsight-collector/pkg/util/grpcutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName = "holoinsight.collector.RemoteService"
	callMethod  = "/" + serviceName + "/Call"

	maxMsgSize = 64 * 1024 * 1024
)

type (
	remoteServiceServer interface {
		Call(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error)
	}

	// Server accepts batches sent by GRPCTransport of other nodes.
	Server struct {
		receiver *Receiver
		server   *grpc.Server
		listener net.Listener
	}

	GRPCOptions struct {
		PoolSize          int
		ReconnectInterval time.Duration
		CloseDelay        time.Duration
		// CompressThreshold is the batch size in bytes above which bodies are zstd compressed.
		CompressThreshold int
	}

	// GRPCTransport sends batches to other nodes, keeping a connection pool per peer.
	GRPCTransport struct {
		mutex   sync.Mutex
		options GRPCOptions
		pools   map[string]*grpcutil.ConnPool
		// peers is the last synced peer set. Before the first Sync any address is dialed.
		peers  map[string]struct{}
		dial   func(address string) (*grpc.ClientConn, error)
		closed bool
	}
)

var remoteServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*remoteServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Call",
			Handler:    callHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "remote.proto",
}

func callHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(remoteServiceServer).Call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: callMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(remoteServiceServer).Call(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func recoverInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64<<10)
			buf = buf[:runtime.Stack(buf, false)]
			logger.Errorz("[remote] [server] panic", zap.String("method", info.FullMethod), zap.Any("panic", r), zap.String("stack", string(buf)))
			err = status.Errorf(codes.Internal, "panic: %v", r)
		}
	}()
	return handler(ctx, req)
}

// NewServer listens on address. Call Serve to accept requests.
func NewServer(address string, receiver *Receiver) (*Server, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", address)
	}
	s := &Server{
		receiver: receiver,
		listener: listener,
		server: grpc.NewServer(
			grpc.MaxRecvMsgSize(maxMsgSize),
			grpc.KeepaliveParams(keepalive.ServerParameters{
				Time:    time.Minute,
				Timeout: 20 * time.Second,
			}),
			grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
				MinTime:             30 * time.Second,
				PermitWithoutStream: true,
			}),
			grpc.ChainUnaryInterceptor(recoverInterceptor),
		),
	}
	s.server.RegisterService(&remoteServiceDesc, s)
	return s, nil
}

// Addr is the address actually listened on, useful with port 0.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks until Stop.
func (s *Server) Serve() error {
	logger.Infoz("[remote] [server] serve", zap.String("addr", s.Addr()))
	if err := s.server.Serve(s.listener); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Stop waits for calls in flight. It also releases the listener when Serve never ran.
func (s *Server) Stop() {
	s.server.GracefulStop()
	s.listener.Close()
}

func (s *Server) Call(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	batch, err := DecodeBatch(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	// records the receiver could not deliver are dropped here, the sender can not do better
	_ = s.receiver.Receive(batch)
	return &emptypb.Empty{}, nil
}

func (o GRPCOptions) withDefaults() GRPCOptions {
	if o.PoolSize <= 0 {
		o.PoolSize = 1
	}
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = 10 * time.Minute
	}
	if o.CloseDelay <= 0 {
		o.CloseDelay = time.Minute
	}
	return o
}

func NewGRPCTransport(options GRPCOptions) *GRPCTransport {
	return &GRPCTransport{
		options: options.withDefaults(),
		pools:   make(map[string]*grpcutil.ConnPool),
		dial:    dial,
	}
}

func dial(address string) (*grpc.ClientConn, error) {
	return grpc.Dial(address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff: backoff.Config{
				BaseDelay:  300 * time.Millisecond,
				Multiplier: 1.6,
				Jitter:     0.2,
				MaxDelay:   10 * time.Second,
			},
			MinConnectTimeout: 20 * time.Second,
		}),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                time.Minute,
			Timeout:             20 * time.Second,
			PermitWithoutStream: false,
		}),
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(maxMsgSize)))
}

func (t *GRPCTransport) pool(address string) (*grpcutil.ConnPool, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.closed {
		return nil, grpcutil.ErrPoolStopped
	}
	if p, ok := t.pools[address]; ok {
		return p, nil
	}
	if _, ok := t.peers[address]; t.peers != nil && !ok {
		return nil, errors.Errorf("%s is not a peer", address)
	}
	p := grpcutil.NewConnPool(func() (*grpc.ClientConn, error) {
		return t.dial(address)
	}, t.options.PoolSize, t.options.ReconnectInterval, t.options.CloseDelay)
	if err := p.Start(); err != nil {
		return nil, err
	}
	t.pools[address] = p
	return p, nil
}

func (t *GRPCTransport) Send(ctx context.Context, address string, batch []Envelope) error {
	body, err := EncodeBatch(batch, t.options.CompressThreshold)
	if err != nil {
		return err
	}
	p, err := t.pool(address)
	if err != nil {
		return err
	}
	conn, err := p.Get()
	if err != nil {
		return err
	}
	return conn.Invoke(ctx, callMethod, wrapperspb.Bytes(body), &emptypb.Empty{})
}

// Sync keeps one pool per peer of nodes: pools of departed peers are stopped and new peers
// are dialed in parallel.
func (t *GRPCTransport) Sync(nodes []cluster.Node) error {
	keep := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		if !n.Self {
			keep[n.Address] = struct{}{}
		}
	}

	t.mutex.Lock()
	t.peers = keep
	for address, p := range t.pools {
		if _, ok := keep[address]; !ok {
			p.Stop()
			delete(t.pools, address)
			logger.Infoz("[remote] [client] remove peer", zap.String("peer", address))
		}
	}
	t.mutex.Unlock()

	g := errgroup.Group{}
	for address := range keep {
		address := address
		g.Go(func() error {
			if _, err := t.pool(address); err != nil {
				return errors.Wrapf(err, "peer %s", address)
			}
			return nil
		})
	}
	return g.Wait()
}

func (t *GRPCTransport) Close() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.closed = true
	for address, p := range t.pools {
		p.Stop()
		delete(t.pools, address)
	}
}
