package compose

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Fixtures
// =============================================================================

const devStackYAML = `
services:
  redis:
    image: redis:6.2-alpine
    ports:
      - "6379:6379"
    volumes:
      - redis-data:/data
    restart: unless-stopped
    healthcheck:
      test: ["CMD", "redis-cli", "ping"]
      interval: 10s
      timeout: 5s
      retries: 5

  redis-commander:
    image: rediscommander/redis-commander:latest
    ports:
      - "8081:8081"
    environment:
      REDIS_HOSTS: local:redis:6379
    depends_on:
      - redis
    restart: unless-stopped

  postgres:
    build:
      context: ./build/postgres
    environment:
      POSTGRES_USER: ${POSTGRES_USER}
      POSTGRES_PASSWORD: ${POSTGRES_PASSWORD:-changeme}
    ports:
      - "5432:5432"
    volumes:
      - pg-data:/var/lib/postgresql/data

volumes:
  redis-data:
  pg-data:
`

// =============================================================================
// Parse Tests
// =============================================================================

func TestParse_DevStack(t *testing.T) {
	stack, err := Parse(devStackYAML, map[string]string{
		"POSTGRES_USER": "postgres",
	})
	require.NoError(t, err)
	require.Len(t, stack.Services, 3)
	assert.Len(t, stack.Volumes, 2)

	redis, err := stack.FindService("redis")
	require.NoError(t, err)
	assert.Equal(t, "redis:6.2-alpine", redis.Image)
	assert.Equal(t, RestartUnlessStopped, redis.Restart)
	require.Len(t, redis.Ports, 1)
	assert.Equal(t, uint32(6379), redis.Ports[0].Target)
	assert.Equal(t, uint32(6379), redis.Ports[0].Published)
	require.NotNil(t, redis.HealthCheck)
	assert.Equal(t, 5, redis.HealthCheck.Retries)
	require.Len(t, redis.Volumes, 1)
	assert.Equal(t, VolumeMountTypeVolume, redis.Volumes[0].Type)
	assert.Equal(t, "redis-data", redis.Volumes[0].Source)

	commander, err := stack.FindService("redis-commander")
	require.NoError(t, err)
	assert.Equal(t, []string{"redis"}, commander.DependsOn)
	assert.Equal(t, "local:redis:6379", commander.Environment["REDIS_HOSTS"])
}

func TestParse_Interpolation(t *testing.T) {
	stack, err := Parse(devStackYAML, map[string]string{
		"POSTGRES_USER": "admin",
	})
	require.NoError(t, err)

	pg, err := stack.FindService("postgres")
	require.NoError(t, err)
	assert.Equal(t, "admin", pg.Environment["POSTGRES_USER"])
	// Unset variable falls back to the declared default
	assert.Equal(t, "changeme", pg.Environment["POSTGRES_PASSWORD"])
	require.NotNil(t, pg.Build)
	assert.Equal(t, "./build/postgres", pg.Build.Context)
}

func TestParse_EmptyInput(t *testing.T) {
	_, err := Parse("", nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = Parse("   \n\t  ", nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse("services:\n  redis:\n   image: [unclosed", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestParse_NoServices(t *testing.T) {
	_, err := Parse("volumes:\n  data:\n", nil)
	require.Error(t, err)
}

func TestParse_SecretsUnsupported(t *testing.T) {
	yaml := `
services:
  db:
    image: postgres:11
secrets:
  db_password:
    file: ./secret.txt
`
	_, err := Parse(yaml, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedFeature)
}

func TestParse_CircularDependency(t *testing.T) {
	yaml := `
services:
  a:
    image: alpine
    depends_on: [b]
  b:
    image: alpine
    depends_on: [a]
`
	_, err := Parse(yaml, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircularDependency)
}

func TestFindService_NotFound(t *testing.T) {
	stack, err := Parse(devStackYAML, map[string]string{"POSTGRES_USER": "x"})
	require.NoError(t, err)

	_, err = stack.FindService("mysql")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrServiceNotFound))
}

// =============================================================================
// Ordering Tests
// =============================================================================

func TestStartOrder_DependenciesFirst(t *testing.T) {
	services := []Service{
		{Name: "web", DependsOn: []string{"api"}},
		{Name: "api", DependsOn: []string{"db"}},
		{Name: "db"},
	}

	ordered := StartOrder(services)
	require.Len(t, ordered, 3)
	assert.Equal(t, "db", ordered[0].Name)
	assert.Equal(t, "api", ordered[1].Name)
	assert.Equal(t, "web", ordered[2].Name)
}

func TestStartOrder_NoDependencies(t *testing.T) {
	services := []Service{
		{Name: "mysql"},
		{Name: "mongo"},
		{Name: "redis"},
	}

	ordered := StartOrder(services)
	require.Len(t, ordered, 3)
	// Declaration order is preserved when nothing depends on anything
	assert.Equal(t, "mysql", ordered[0].Name)
	assert.Equal(t, "mongo", ordered[1].Name)
	assert.Equal(t, "redis", ordered[2].Name)
}

func TestStopOrder_ReversesStartOrder(t *testing.T) {
	services := []Service{
		{Name: "commander", DependsOn: []string{"redis"}},
		{Name: "redis"},
	}

	ordered := StopOrder(services)
	require.Len(t, ordered, 2)
	assert.Equal(t, "commander", ordered[0].Name)
	assert.Equal(t, "redis", ordered[1].Name)
}

func TestStartOrder_Empty(t *testing.T) {
	assert.Empty(t, StartOrder(nil))
}
