package services

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"chitter/pkg/errs"
	sn_metrics "chitter/pkg/metrics"
	"chitter/pkg/model"
	"chitter/pkg/storage"
	"chitter/pkg/utils"

	"github.com/ServiceWeaver/weaver"
	"github.com/bradfitz/gomemcache/memcache"
	"github.com/dgrijalva/jwt-go"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// tokens issued at login are valid for 7 days
const tokenTTL = 7 * 24 * time.Hour

const profileCacheTTLSeconds = 60

type IdentityService interface {
	RegisterUser(ctx context.Context, reqID int64, firstName string, lastName string, email string, password string) (model.User, error)
	Login(ctx context.Context, reqID int64, email string, password string) (string, int64, error)
	VerifyToken(ctx context.Context, reqID int64, token string) (int64, error)
	GetProfile(ctx context.Context, reqID int64, userID int64) (model.User, error)
	SetProfileImage(ctx context.Context, reqID int64, userID int64, imageRef string) error
	ListUserIDs(ctx context.Context, reqID int64) ([]int64, error)
	ListUsers(ctx context.Context, reqID int64) ([]model.User, error)
}

var _ weaver.NotRetriable = IdentityService.RegisterUser
var _ weaver.NotRetriable = IdentityService.SetProfileImage

// userRecord is the mongo shape of a user. Credential fields stay private to
// this service; everything else is projected into model.User.
type userRecord struct {
	UserID       int64  `bson:"user_id"`
	FirstName    string `bson:"first_name"`
	LastName     string `bson:"last_name"`
	Email        string `bson:"email"`
	PwdHashed    string `bson:"pwd_hashed"`
	Salt         string `bson:"salt"`
	ProfileImage string `bson:"profile_image,omitempty"`
	CreatedAt    int64  `bson:"created_at"`
}

type sessionClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.StandardClaims
}

type identityService struct {
	weaver.Implements[IdentityService]
	weaver.WithConfig[identityServiceOptions]
	idGen           *utils.IDGenerator
	mongoClient     *mongo.Client
	memCachedClient *memcache.Client
	storeTimeout    time.Duration
}

type identityServiceOptions struct {
	MongoDBAddr    string `toml:"mongodb_address"`
	MongoDBPort    int    `toml:"mongodb_port"`
	MemCachedAddr  string `toml:"memcached_address"`
	MemCachedPort  int    `toml:"memcached_port"`
	JWTSecret      string `toml:"jwt_secret"`
	StoreTimeoutMs int    `toml:"store_timeout_ms"`
}

var letterRunes = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func genRandomStr(length int) string {
	b := make([]rune, length)
	for i := range b {
		b[i] = letterRunes[rand.Intn(len(letterRunes))]
	}
	return string(b)
}

func hashPwd(pwd []byte) string {
	hasher := sha1.New()
	hasher.Write(pwd)
	return base64.URLEncoding.EncodeToString(hasher.Sum(nil))
}

// verifyPwd compares a candidate password against the stored salted hash.
func verifyPwd(password string, salt string, pwdHashed string) bool {
	return hashPwd([]byte(password+salt)) == pwdHashed
}

func newSessionToken(secret string, userID int64, email string, now time.Time) (string, error) {
	claims := &sessionClaims{
		UserID: strconv.FormatInt(userID, 10),
		Email:  email,
		StandardClaims: jwt.StandardClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(tokenTTL).Unix(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseSessionToken(secret string, tokenStr string) (int64, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return 0, errs.New(errs.Unauthorized, "invalid or expired token")
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, errs.New(errs.Unauthorized, "invalid token subject")
	}
	return userID, nil
}

// insertUserError translates an InsertOne failure. A duplicate-key write on
// the unique email index means this registration lost a race for the email;
// two concurrent signups can both pass the pre-check, but only one insert
// lands.
func insertUserError(err error, email string) error {
	if mongo.IsDuplicateKeyError(err) {
		return errs.New(errs.Conflict, "email %s already registered", email)
	}
	return errs.New(errs.StoreUnavailable, "writing user store: %v", err)
}

func validateRegistration(firstName, lastName, email, password string) error {
	if strings.TrimSpace(firstName) == "" || strings.TrimSpace(lastName) == "" ||
		strings.TrimSpace(email) == "" || password == "" {
		return errs.New(errs.InvalidInput, "all fields are required")
	}
	if !emailRe.MatchString(email) {
		return errs.New(errs.InvalidInput, "malformed email address %q", email)
	}
	return nil
}

func (i *identityService) Init(ctx context.Context) error {
	logger := i.Logger(ctx)
	i.idGen = utils.NewIDGenerator()
	i.storeTimeout = time.Duration(i.Config().StoreTimeoutMs) * time.Millisecond
	if i.storeTimeout <= 0 {
		i.storeTimeout = 5 * time.Second
	}

	var err error
	i.mongoClient, err = storage.MongoDBClient(ctx, i.Config().MongoDBAddr, i.Config().MongoDBPort)
	if err != nil {
		logger.Error(err.Error())
		return err
	}

	// the unique index is what actually holds the email invariant; the
	// pre-check in RegisterUser is only a fast path
	_, err = i.users().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		logger.Error("error creating unique email index in mongodb", "msg", err.Error())
		return err
	}

	i.memCachedClient = storage.MemCachedClient(i.Config().MemCachedAddr, i.Config().MemCachedPort)
	logger.Info("identity service running!",
		"mongodb_addr", i.Config().MongoDBAddr, "mongodb_port", i.Config().MongoDBPort,
		"memcached_addr", i.Config().MemCachedAddr, "memcached_port", i.Config().MemCachedPort,
	)
	return nil
}

func (i *identityService) users() *mongo.Collection {
	return i.mongoClient.Database("identity").Collection("users")
}

func (i *identityService) RegisterUser(ctx context.Context, reqID int64, firstName string, lastName string, email string, password string) (model.User, error) {
	logger := i.Logger(ctx)
	logger.Debug("entering RegisterUser", "req_id", reqID, "first_name", firstName, "last_name", lastName, "email", email)

	if err := validateRegistration(firstName, lastName, email, password); err != nil {
		return model.User{}, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, i.storeTimeout)
	defer cancel()

	filter := bson.D{
		{Key: "email", Value: email},
	}
	err := i.users().FindOne(storeCtx, filter).Err()
	if err == nil {
		logger.Debug("email already registered", "email", email)
		return model.User{}, errs.New(errs.Conflict, "email %s already registered", email)
	}
	if err != mongo.ErrNoDocuments {
		logger.Error("error finding user in mongodb", "msg", err.Error())
		return model.User{}, errs.New(errs.StoreUnavailable, "reading user store: %v", err)
	}

	userID, err := i.idGen.Next()
	if err != nil {
		logger.Error("error generating user id", "msg", err.Error())
		return model.User{}, errs.New(errs.StoreUnavailable, "generating user id: %v", err)
	}
	salt := genRandomStr(32)
	record := userRecord{
		UserID:    userID,
		FirstName: firstName,
		LastName:  lastName,
		Email:     email,
		PwdHashed: hashPwd([]byte(password + salt)),
		Salt:      salt,
		CreatedAt: time.Now().Unix(),
	}
	_, err = i.users().InsertOne(storeCtx, record)
	if err != nil {
		logger.Error("error inserting new user in mongodb", "msg", err.Error())
		return model.User{}, insertUserError(err, email)
	}
	sn_metrics.RegisteredUsers.Inc()
	return recordToUser(record), nil
}

func (i *identityService) Login(ctx context.Context, reqID int64, email string, password string) (string, int64, error) {
	logger := i.Logger(ctx)
	logger.Debug("entering Login", "req_id", reqID, "email", email)

	if strings.TrimSpace(email) == "" || password == "" {
		return "", 0, errs.New(errs.InvalidInput, "email and password are required")
	}

	storeCtx, cancel := context.WithTimeout(ctx, i.storeTimeout)
	defer cancel()

	var record userRecord
	filter := bson.D{
		{Key: "email", Value: email},
	}
	err := i.users().FindOne(storeCtx, filter).Decode(&record)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			logger.Debug("email does not exist", "email", email)
			return "", 0, errs.New(errs.NotFound, "no account for %s", email)
		}
		logger.Error("error finding user in mongodb", "msg", err.Error())
		return "", 0, errs.New(errs.StoreUnavailable, "reading user store: %v", err)
	}

	if !verifyPwd(password, record.Salt, record.PwdHashed) {
		return "", 0, errs.New(errs.Unauthorized, "invalid credentials")
	}
	tokenStr, err := newSessionToken(i.Config().JWTSecret, record.UserID, record.Email, time.Now())
	if err != nil {
		logger.Error("error signing login token", "msg", err.Error())
		return "", 0, errs.New(errs.StoreUnavailable, "failed to create login token")
	}
	return tokenStr, record.UserID, nil
}

func (i *identityService) VerifyToken(ctx context.Context, reqID int64, token string) (int64, error) {
	return parseSessionToken(i.Config().JWTSecret, token)
}

// GetProfile attempts to read the profile from memcached and falls back to
// mongodb, refreshing the cache entry.
func (i *identityService) GetProfile(ctx context.Context, reqID int64, userID int64) (model.User, error) {
	logger := i.Logger(ctx)
	logger.Debug("entering GetProfile", "req_id", reqID, "user_id", userID)

	cacheKey := "profile:" + strconv.FormatInt(userID, 10)
	item, err := i.memCachedClient.Get(cacheKey)
	if err == nil {
		var user model.User
		jsonErr := json.Unmarshal(item.Value, &user)
		if jsonErr == nil {
			return user, nil
		}
		logger.Error("error parsing profile from memcached", "msg", jsonErr.Error())
	} else if err != memcache.ErrCacheMiss {
		logger.Error("error reading profile from memcached", "msg", err.Error())
	}

	var record userRecord
	lookup := func(ctx context.Context) error {
		storeCtx, cancel := context.WithTimeout(ctx, i.storeTimeout)
		defer cancel()
		filter := bson.D{
			{Key: "user_id", Value: userID},
		}
		return i.users().FindOne(storeCtx, filter).Decode(&record)
	}
	err = utils.RetryRead(ctx, lookup, func(err error) bool { return err != mongo.ErrNoDocuments })
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return model.User{}, errs.New(errs.NotFound, "user %d does not exist", userID)
		}
		logger.Error("error finding user in mongodb", "msg", err.Error())
		return model.User{}, errs.New(errs.StoreUnavailable, "reading user store: %v", err)
	}

	user := recordToUser(record)
	userJSON, err := json.Marshal(user)
	if err == nil {
		err = i.memCachedClient.Set(&memcache.Item{Key: cacheKey, Value: userJSON, Expiration: profileCacheTTLSeconds})
		if err != nil {
			logger.Error("error writing profile to memcached", "msg", err.Error())
		}
	}
	return user, nil
}

func (i *identityService) SetProfileImage(ctx context.Context, reqID int64, userID int64, imageRef string) error {
	logger := i.Logger(ctx)
	logger.Debug("entering SetProfileImage", "req_id", reqID, "user_id", userID, "image_ref", imageRef)

	if strings.TrimSpace(imageRef) == "" {
		return errs.New(errs.InvalidInput, "image reference is required")
	}

	storeCtx, cancel := context.WithTimeout(ctx, i.storeTimeout)
	defer cancel()

	filter := bson.D{
		{Key: "user_id", Value: userID},
	}
	update := bson.M{
		"$set": bson.M{
			"profile_image": imageRef,
		},
	}
	result, err := i.users().UpdateOne(storeCtx, filter, update)
	if err != nil {
		logger.Error("error updating profile image in mongodb", "msg", err.Error())
		return errs.New(errs.StoreUnavailable, "writing user store: %v", err)
	}
	if result.MatchedCount == 0 {
		return errs.New(errs.NotFound, "user %d does not exist", userID)
	}
	err = i.memCachedClient.Delete("profile:" + strconv.FormatInt(userID, 10))
	if err != nil && err != memcache.ErrCacheMiss {
		logger.Error("error invalidating profile cache", "msg", err.Error())
	}
	return nil
}

func (i *identityService) ListUserIDs(ctx context.Context, reqID int64) ([]int64, error) {
	users, err := i.ListUsers(ctx, reqID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.UserID)
	}
	return ids, nil
}

// ListUsers scans the whole directory. Callers are the feed aggregator and
// the user search, which both need every record.
func (i *identityService) ListUsers(ctx context.Context, reqID int64) ([]model.User, error) {
	logger := i.Logger(ctx)
	logger.Debug("entering ListUsers", "req_id", reqID)

	var users []model.User
	scan := func(ctx context.Context) error {
		storeCtx, cancel := context.WithTimeout(ctx, i.storeTimeout)
		defer cancel()
		cur, err := i.users().Find(storeCtx, bson.D{})
		if err != nil {
			return err
		}
		defer cur.Close(storeCtx)
		users = users[:0]
		for cur.Next(storeCtx) {
			var record userRecord
			if err := cur.Decode(&record); err != nil {
				return err
			}
			users = append(users, recordToUser(record))
		}
		return cur.Err()
	}
	err := utils.RetryRead(ctx, scan, func(error) bool { return true })
	if err != nil {
		logger.Error("error scanning users in mongodb", "msg", err.Error())
		return nil, errs.New(errs.StoreUnavailable, "reading user store: %v", err)
	}
	return users, nil
}

func recordToUser(record userRecord) model.User {
	return model.User{
		UserID:       record.UserID,
		FirstName:    record.FirstName,
		LastName:     record.LastName,
		Email:        record.Email,
		ProfileImage: record.ProfileImage,
		CreatedAt:    record.CreatedAt,
	}
}
