// Package proto defines the gRPC service interface for File Vault.
//
// The service descriptor is written by hand and messages travel as CBOR
// (see Codec), so no protoc step is needed.
package proto

import (
	"context"

	"google.golang.org/grpc"
)

// FileServiceServer is the server-side interface for the FileService.
type FileServiceServer interface {
	IngestFile(context.Context, *IngestFileRequest) (*IngestFileResponse, error)
	GetFile(context.Context, *GetFileRequest) (*GetFileResponse, error)
	DeleteFile(context.Context, *DeleteFileRequest) (*DeleteFileResponse, error)
	GetStats(context.Context, *GetStatsRequest) (*GetStatsResponse, error)
	ListMediaTypes(context.Context, *ListMediaTypesRequest) (*ListMediaTypesResponse, error)
}

// FileServiceClient is the client-side interface for the FileService.
type FileServiceClient interface {
	IngestFile(ctx context.Context, in *IngestFileRequest, opts ...grpc.CallOption) (*IngestFileResponse, error)
	GetFile(ctx context.Context, in *GetFileRequest, opts ...grpc.CallOption) (*GetFileResponse, error)
	DeleteFile(ctx context.Context, in *DeleteFileRequest, opts ...grpc.CallOption) (*DeleteFileResponse, error)
	GetStats(ctx context.Context, in *GetStatsRequest, opts ...grpc.CallOption) (*GetStatsResponse, error)
	ListMediaTypes(ctx context.Context, in *ListMediaTypesRequest, opts ...grpc.CallOption) (*ListMediaTypesResponse, error)
}

const serviceName = "filevault.FileService"

// ---- server registration ----

// ServiceDesc is the grpc.ServiceDesc for the FileService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*FileServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "IngestFile", Handler: _FileService_IngestFile_Handler},
		{MethodName: "GetFile", Handler: _FileService_GetFile_Handler},
		{MethodName: "DeleteFile", Handler: _FileService_DeleteFile_Handler},
		{MethodName: "GetStats", Handler: _FileService_GetStats_Handler},
		{MethodName: "ListMediaTypes", Handler: _FileService_ListMediaTypes_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "proto/filevault.proto",
}

// RegisterFileServiceServer registers the server implementation with a gRPC server.
func RegisterFileServiceServer(s grpc.ServiceRegistrar, srv FileServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary adapts one typed method to a MethodDesc handler, running any
// configured interceptor.
func unary[Req, Resp any](method string, call func(FileServiceServer, context.Context, *Req) (*Resp, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(FileServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(FileServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var (
	_FileService_IngestFile_Handler     = unary("IngestFile", FileServiceServer.IngestFile)
	_FileService_GetFile_Handler        = unary("GetFile", FileServiceServer.GetFile)
	_FileService_DeleteFile_Handler     = unary("DeleteFile", FileServiceServer.DeleteFile)
	_FileService_GetStats_Handler       = unary("GetStats", FileServiceServer.GetStats)
	_FileService_ListMediaTypes_Handler = unary("ListMediaTypes", FileServiceServer.ListMediaTypes)
)

// ---- client implementation ----

type fileServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewFileServiceClient creates a FileService client. Calls use the CBOR
// codec unless the caller overrides the content subtype.
func NewFileServiceClient(cc grpc.ClientConnInterface) FileServiceClient {
	return &fileServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *fileServiceClient) IngestFile(ctx context.Context, in *IngestFileRequest, opts ...grpc.CallOption) (*IngestFileResponse, error) {
	return invoke[IngestFileResponse](ctx, c.cc, "IngestFile", in, opts)
}

func (c *fileServiceClient) GetFile(ctx context.Context, in *GetFileRequest, opts ...grpc.CallOption) (*GetFileResponse, error) {
	return invoke[GetFileResponse](ctx, c.cc, "GetFile", in, opts)
}

func (c *fileServiceClient) DeleteFile(ctx context.Context, in *DeleteFileRequest, opts ...grpc.CallOption) (*DeleteFileResponse, error) {
	return invoke[DeleteFileResponse](ctx, c.cc, "DeleteFile", in, opts)
}

func (c *fileServiceClient) GetStats(ctx context.Context, in *GetStatsRequest, opts ...grpc.CallOption) (*GetStatsResponse, error) {
	return invoke[GetStatsResponse](ctx, c.cc, "GetStats", in, opts)
}

func (c *fileServiceClient) ListMediaTypes(ctx context.Context, in *ListMediaTypesRequest, opts ...grpc.CallOption) (*ListMediaTypesResponse, error) {
	return invoke[ListMediaTypesResponse](ctx, c.cc, "ListMediaTypes", in, opts)
}
