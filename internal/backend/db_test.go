package backend_test

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/team13Uni/wedro/internal/backend"
)

var _ = Describe("NewDB", func() {
	DescribeTable("rejects invalid configuration",
		func(cfg *backend.DBConfig, message string) {
			if cfg != nil && cfg.Logger == nil && message != "logger" {
				cfg.Logger = testLogger()
			}
			db, err := backend.NewDB(cfg)
			Expect(err).To(MatchError(ContainSubstring(message)))
			Expect(db).To(BeNil())
		},
		Entry("nil config", nil, "config cannot be nil"),
		Entry("missing logger", &backend.DBConfig{Driver: backend.DriverSQLite, Path: ":memory:"}, "logger"),
		Entry("unknown driver", &backend.DBConfig{Driver: "mysql"}, "unsupported database driver"),
		Entry("sqlite without a path", &backend.DBConfig{Driver: backend.DriverSQLite}, "sqlite path"),
	)

	It("should fail when postgres is unreachable", func() {
		db, err := backend.NewDB(&backend.DBConfig{
			Logger:   testLogger(),
			Host:     "localhost",
			Port:     9999,
			User:     "wedro",
			Password: "wedro",
			DBName:   "wedro",
			SSLMode:  "disable",
		})
		Expect(err).To(HaveOccurred())
		Expect(db).To(BeNil())
	})

	It("should migrate the measurement and station tables", func() {
		db := newSQLiteDB(testLogger())

		Expect(db.Migrator().HasTable(&backend.MeasurementRecord{})).To(BeTrue())
		Expect(db.Migrator().HasTable(&backend.StationRecord{})).To(BeTrue())
		Expect(db.Migrator().HasIndex(&backend.MeasurementRecord{}, "idx_series_tier_time")).To(BeTrue())
	})

	Describe("a sqlite file", func() {
		var path string

		BeforeEach(func() {
			path = filepath.Join(GinkgoT().TempDir(), "data", "wedro.db")
		})

		It("should create missing directories and use WAL", func() {
			db, err := backend.NewDB(&backend.DBConfig{
				Logger: testLogger(),
				Driver: backend.DriverSQLite,
				Path:   path,
			})
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(func() { Expect(backend.CloseDB(db, testLogger())).To(Succeed()) })
			Expect(path).To(BeAnExistingFile())

			var mode string
			Expect(db.Raw("PRAGMA journal_mode").Scan(&mode).Error).To(Succeed())
			Expect(mode).To(Equal("wal"))

			var foreignKeys int
			Expect(db.Raw("PRAGMA foreign_keys").Scan(&foreignKeys).Error).To(Succeed())
			Expect(foreignKeys).To(Equal(1))
		})

		It("should keep data across reopen", func() {
			cfg := &backend.DBConfig{Logger: testLogger(), Driver: backend.DriverSQLite, Path: path}

			db, err := backend.NewDB(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(db.Create(&backend.StationRecord{StationID: "st-1", LocationID: "roof"}).Error).To(Succeed())
			Expect(backend.CloseDB(db, testLogger())).To(Succeed())

			db, err = backend.NewDB(cfg)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(func() { _ = backend.CloseDB(db, testLogger()) })

			var count int64
			Expect(db.Model(&backend.StationRecord{}).Count(&count).Error).To(Succeed())
			Expect(count).To(Equal(int64(1)))
		})
	})
})

var _ = Describe("CloseDB", func() {
	It("should accept a nil database", func() {
		Expect(backend.CloseDB(nil, testLogger())).To(Succeed())
		Expect(backend.CloseDB(nil, nil)).To(Succeed())
	})

	It("should close the connection pool", func() {
		db, err := backend.NewDB(&backend.DBConfig{Logger: testLogger(), Driver: backend.DriverSQLite, Path: ":memory:"})
		Expect(err).NotTo(HaveOccurred())
		Expect(backend.CloseDB(db, testLogger())).To(Succeed())

		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		Expect(sqlDB.Ping()).To(HaveOccurred())
	})
})
