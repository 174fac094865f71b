// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package extstorage_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/samber/oops"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/exthost/internal/extstorage"
)

// setupPostgresContainer starts PostgreSQL and returns its connection string.
func setupPostgresContainer(ctx context.Context) (string, func(), error) {
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("exthost_test"),
		postgres.WithUsername("exthost"),
		postgres.WithPassword("exthost"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return "", nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return "", nil, err
	}
	return connStr, func() { _ = container.Terminate(ctx) }, nil
}

var _ = Describe("Postgres extension storage", Ordered, func() {
	var (
		ctx       context.Context
		connStr   string
		terminate func()
	)

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		connStr, terminate, err = setupPostgresContainer(ctx)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if terminate != nil {
			terminate()
		}
	})

	Describe("before migration", func() {
		It("reports the schema as not migrated", func() {
			store, closePool, err := extstorage.Open(ctx, connStr)
			Expect(err).NotTo(HaveOccurred())
			defer closePool()

			err = store.Load(ctx)
			Expect(err).To(HaveOccurred())
			oopsErr, ok := oops.AsOops(err)
			Expect(ok).To(BeTrue())
			Expect(oopsErr.Code()).To(Equal(extstorage.CodeNotMigrated))
		})
	})

	Describe("after migration", func() {
		var (
			store     *extstorage.Postgres
			closePool func()
		)

		BeforeAll(func() {
			migrator, err := extstorage.NewMigrator(connStr)
			Expect(err).NotTo(HaveOccurred())
			Expect(migrator.Up()).To(Succeed())
			version, dirty, err := migrator.Version()
			Expect(err).NotTo(HaveOccurred())
			Expect(dirty).To(BeFalse())
			Expect(version).To(Equal(uint(1)))
			Expect(migrator.Close()).To(Succeed())

			store, closePool, err = extstorage.Open(ctx, connStr)
			Expect(err).NotTo(HaveOccurred())
		})

		AfterAll(func() {
			if closePool != nil {
				closePool()
			}
		})

		It("persists enablement across loads", func() {
			Expect(store.Load(ctx)).To(Succeed())
			Expect(store.Ready().Settled()).To(BeTrue())
			Expect(store.IsEnabled("test.a")).To(BeTrue())

			Expect(store.SetEnabled(ctx, "test.a", false)).To(Succeed())

			reopened, closeReopened, err := extstorage.Open(ctx, connStr)
			Expect(err).NotTo(HaveOccurred())
			defer closeReopened()
			Expect(reopened.Load(ctx)).To(Succeed())
			Expect(reopened.IsEnabled("test.a")).To(BeFalse())

			Expect(store.SetEnabled(ctx, "test.a", true)).To(Succeed())
			Expect(reopened.Load(ctx)).To(Succeed())
			Expect(reopened.IsEnabled("test.a")).To(BeTrue())
		})

		It("stores namespaced values", func() {
			Expect(store.Set(ctx, "test.a", "greeting", []byte("hello"))).To(Succeed())
			Expect(store.Set(ctx, "test.a", "greeting", []byte("hi"))).To(Succeed())

			got, err := store.Get(ctx, "test.a", "greeting")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal([]byte("hi")))

			got, err = store.Get(ctx, "test.b", "greeting")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeNil())

			Expect(store.Delete(ctx, "test.a", "greeting")).To(Succeed())
			got, err = store.Get(ctx, "test.a", "greeting")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeNil())
		})
	})
})
