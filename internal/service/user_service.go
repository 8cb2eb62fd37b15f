package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"sitechat-go/internal/model"
	"sitechat-go/internal/repository"
	"sitechat-go/pkg/hash"
	"sitechat-go/pkg/log"
	"sitechat-go/pkg/token"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// UserService 接口定义了管理端账号相关的业务操作。
type UserService interface {
	EnsureAdmin(ctx context.Context, username, password string) error
	Login(ctx context.Context, username, password string) (accessToken, refreshToken string, err error)
	GetProfile(ctx context.Context, username string) (*model.User, error)
	Logout(ctx context.Context, tokenString string) error
	IsRevoked(ctx context.Context, tokenString string) bool
	RefreshToken(ctx context.Context, refreshTokenString string) (newAccessToken, newRefreshToken string, err error)
}

// userService 是 UserService 接口的实现。
type userService struct {
	userRepo    repository.UserRepository
	jwtManager  *token.JWTManager
	redisClient *redis.Client
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(userRepo repository.UserRepository, jwtManager *token.JWTManager, redisClient *redis.Client) UserService {
	return &userService{
		userRepo:    userRepo,
		jwtManager:  jwtManager,
		redisClient: redisClient,
	}
}

// EnsureAdmin 在管理员账号不存在时创建它；已存在时只校正角色，不修改密码。
func (s *userService) EnsureAdmin(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		log.Warnf("[UserService] 未配置管理员账号，跳过初始化")
		return nil
	}
	existing, err := s.userRepo.FindByUsername(ctx, username)
	if err == nil {
		if existing.Role == model.RoleAdmin {
			return nil
		}
		existing.Role = model.RoleAdmin
		log.Infof("[UserService] 已将账号提升为管理员: %s", username)
		return s.userRepo.Update(ctx, existing)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hashedPassword, err := hash.HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.userRepo.Create(ctx, &model.User{Username: username, Password: hashedPassword, Role: model.RoleAdmin}); err != nil {
		return err
	}
	log.Infof("[UserService] 已创建管理员账号: %s", username)
	return nil
}

// Login 处理管理员登录的业务逻辑。
func (s *userService) Login(ctx context.Context, username, password string) (accessToken, refreshToken string, err error) {
	// 1. 查找用户
	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", ErrInvalidCredentials
		}
		return "", "", err
	}

	// 2. 验证密码
	if !hash.CheckPasswordHash(password, user.Password) {
		return "", "", ErrInvalidCredentials
	}

	// 3. 生成 access token 和 refresh token
	return s.issueTokens(user)
}

func (s *userService) issueTokens(user *model.User) (string, string, error) {
	accessToken, err := s.jwtManager.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		return "", "", err
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Username, user.Role)
	if err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

// GetProfile 根据用户名获取用户详细信息。
func (s *userService) GetProfile(ctx context.Context, username string) (*model.User, error) {
	return s.userRepo.FindByUsername(ctx, username)
}

func blacklistKey(tokenString string) string {
	return "blacklist:" + tokenString
}

// Logout 将 token 加入 Redis 黑名单，过期时间为 token 的剩余有效期。
func (s *userService) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.jwtManager.VerifyToken(tokenString)
	if err != nil {
		return err
	}
	expiration := time.Until(claims.ExpiresAt.Time)
	if expiration <= 0 {
		return nil
	}
	return s.redisClient.Set(ctx, blacklistKey(tokenString), "true", expiration).Err()
}

// IsRevoked 判断 token 是否已登出。
func (s *userService) IsRevoked(ctx context.Context, tokenString string) bool {
	n, err := s.redisClient.Exists(ctx, blacklistKey(tokenString)).Result()
	return err == nil && n > 0
}

// RefreshToken 验证 refresh token 并签发新的 access token 和 refresh token。
func (s *userService) RefreshToken(ctx context.Context, refreshTokenString string) (newAccessToken, newRefreshToken string, err error) {
	claims, err := s.jwtManager.VerifyKind(refreshTokenString, token.KindRefresh)
	if err != nil || s.IsRevoked(ctx, refreshTokenString) {
		return "", "", errors.New("invalid refresh token")
	}
	user, err := s.userRepo.FindByUsername(ctx, claims.Username)
	if err != nil {
		return "", "", errors.New("user not found")
	}
	return s.issueTokens(user)
}
