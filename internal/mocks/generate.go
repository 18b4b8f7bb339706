// Package mocks provides gomock implementations of the pipeline's collaborator interfaces.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	provider := mocks.NewMockProvider(ctrl)
//	provider.EXPECT().Download(gomock.Any(), "bucket", "path", gomock.Any()).Return(local, nil)
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=provider_mock.go github.com/andresuchdata/parquetwrite/internal/storage Provider
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=store_mock.go github.com/andresuchdata/parquetwrite/internal/metadata Store
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=notifier_mock.go github.com/andresuchdata/parquetwrite/internal/notify Notifier
